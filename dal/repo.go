package dal

import (
	"community_fed/shared"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/mattn/go-sqlite3"
	"sync"
	"time"
)

const schemaVer = 1

//go:embed scripts/*
var scripts embed.FS

// WriteResult tells what an idempotent insert actually did.
type WriteResult int

const (
	WriteInserted  WriteResult = iota // New row
	WriteExisted                      // Row was already there; nothing changed
	WriteCancelled                    // Activity was undone before it arrived; nothing stored
)

type IRepo interface {
	InitUpdateDb()
	AddLocalActor(actor *Actor, privKey string) (isNew bool, err error)
	GetActor(uri string) (*Actor, error)
	GetActorByKeyId(keyId string) (*Actor, error)
	GetLocalActor(user string) (*Actor, error)
	ListLocalActors() ([]*Actor, error)
	GetPrivKey(user string) (string, error)
	UpsertRemoteActor(actor *Actor) error
	DisableActor(uri string) (changed bool, err error)
	AddFollow(follow *Follow) (WriteResult, error)
	GetFollow(followerUri, followeeUri string) (*Follow, error)
	GetFollowByActivityId(activityId string) (*Follow, error)
	SetFollowStatus(followerUri, followeeUri string, status FollowStatus) (changed bool, err error)
	RemoveFollow(followerUri, followeeUri, activityId string) (removed bool, err error)
	GetFollowerInboxes(followeeUri string) ([]string, error)
	AddStatusIfNew(status *Status) (isNew bool, err error)
	GetStatus(uri string) (*Status, error)
	TombstoneStatus(uri string, when time.Time) (changed bool, err error)
	AddLike(like *Like) (WriteResult, error)
	GetLike(actorUri, statusUri string) (*Like, error)
	RemoveLike(actorUri, statusUri, activityId string) (removed bool, err error)
	UndoByActivityId(actorUri, activityId string) (removed bool, err error)
	MarkActivityHandled(id string, when time.Time) (alreadyHandled bool, err error)
	UnmarkActivityHandled(id string) error
	IsActivityHandled(id string) (bool, error)
	PurgeActivityLog(before time.Time) (int64, error)
}

type Repo struct {
	cfg    *shared.Config
	logger shared.ILogger
	db     *sql.DB
	muDb   sync.RWMutex
}

const actorColumns = `id, uri, username, domain, is_local, display_name, summary, key_id, pubkey, inbox,
	shared_inbox, outbox, followers_url, following_url, manually_approves, followers_count, following_count,
	statuses_count, disabled, created_at, updated_at, last_fetched_at`

const statusColumns = `id, uri, author_uri, content, summary, visibility, in_reply_to, recipients, published,
	is_local, deleted, deleted_at, likes_count`

// queryer is the part of *sql.DB and *sql.Tx that the scanning helpers need.
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

func NewRepo(cfg *shared.Config, logger shared.ILogger) IRepo {

	var err error
	var db *sql.DB

	// https://phiresky.github.io/blog/2020/sqlite-performance-tuning/
	// https://github.com/mattn/go-sqlite3/issues/1022#issuecomment-1067353980
	// _synchronous=1 is "normal"
	cstr := "file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=1&_busy_timeout=5000"
	db, err = sql.Open("sqlite3", fmt.Sprintf(cstr, cfg.DbFile))
	if err != nil {
		logger.Errorf("Failed to open/create DB file: %s: %v", cfg.DbFile, err)
		panic(err)
	}

	repo := Repo{
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	return &repo
}

func (repo *Repo) InitUpdateDb() {

	dbVer := 0
	sysParamsExists := false
	var err error
	var rows *sql.Rows

	rows, err = repo.db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name='sys_params'")
	if err != nil {
		repo.logger.Errorf("Failed to check if 'sys_params' table exists: %v", err)
		panic(err)
	}
	for rows.Next() {
		sysParamsExists = true
	}
	_ = rows.Close()
	if !sysParamsExists {
		repo.logger.Printf("Database appears to be empty; current schema version is %d", schemaVer)
	} else {
		row := repo.db.QueryRow("SELECT val FROM sys_params WHERE name='schema_ver'")
		if err = row.Scan(&dbVer); err != nil {
			repo.logger.Errorf("Failed to query schema version: %v", err)
			panic(err)
		}
		repo.logger.Printf("Database is at version %d; current schema version is %d", dbVer, schemaVer)
	}
	for i := dbVer; i < schemaVer; i += 1 {
		nextVer := i + 1
		fn := fmt.Sprintf("scripts/create-%02d.sql", nextVer)
		repo.logger.Printf("Running %s", fn)
		var sqlBytes []byte
		if sqlBytes, err = scripts.ReadFile(fn); err != nil {
			repo.logger.Errorf("Failed to read init script %s: %v", fn, err)
			panic(err)
		}
		if _, err = repo.db.Exec(string(sqlBytes)); err != nil {
			repo.logger.Errorf("Failed to execute init script %s: %v", fn, err)
			panic(err)
		}
		_, err = repo.db.Exec("UPDATE sys_params SET val=? WHERE name='schema_ver'", nextVer)
		if err != nil {
			repo.logger.Errorf("Failed to update schema_ver to %d: %v", nextVer, err)
			panic(err)
		}
	}
}

func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		// MySQL would be mysql.MySQLError with Number == 1062
		return sqliteErr.Code == 19 && sqliteErr.ExtendedCode == 2067
	}
	return false
}

// inTx runs fn in a transaction; caller holds the write lock.
func (repo *Repo) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := repo.db.Begin()
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (repo *Repo) AddLocalActor(actor *Actor, privKey string) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	now := time.Now().UTC()
	_, err = repo.db.Exec(`INSERT INTO actors
		(uri, username, domain, is_local, display_name, summary, key_id, pubkey, privkey, inbox, shared_inbox,
		 outbox, followers_url, following_url, manually_approves, created_at, updated_at, last_fetched_at)
		VALUES(?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		actor.Uri, actor.Username, actor.Domain, actor.DisplayName, actor.Summary, actor.KeyId, actor.PubKey,
		privKey, actor.Inbox, actor.SharedInbox, actor.Outbox, actor.FollowersUrl, actor.FollowingUrl,
		actor.ManuallyApproves, now, now, now)
	if err == nil {
		return true, nil
	}
	// Duplicate key: actor with this URI or local username already exists
	if isDuplicateKey(err) {
		return false, nil
	}
	return false, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*Actor, error) {
	var res Actor
	err := row.Scan(&res.Id, &res.Uri, &res.Username, &res.Domain, &res.IsLocal, &res.DisplayName, &res.Summary,
		&res.KeyId, &res.PubKey, &res.Inbox, &res.SharedInbox, &res.Outbox, &res.FollowersUrl, &res.FollowingUrl,
		&res.ManuallyApproves, &res.FollowersCount, &res.FollowingCount, &res.StatusesCount, &res.Disabled,
		&res.CreatedAt, &res.UpdatedAt, &res.LastFetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (repo *Repo) GetActor(uri string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return scanActor(repo.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE uri=?`, uri))
}

func (repo *Repo) GetActorByKeyId(keyId string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return scanActor(repo.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE key_id=? LIMIT 1`, keyId))
}

func (repo *Repo) GetLocalActor(user string) (*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	return scanActor(repo.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE is_local=1 AND username=?`, user))
}

func (repo *Repo) ListLocalActors() ([]*Actor, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT ` + actorColumns + ` FROM actors WHERE is_local=1 ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]*Actor, 0)
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, actor)
	}
	return res, rows.Err()
}

func (repo *Repo) GetPrivKey(user string) (string, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT privkey FROM actors WHERE is_local=1 AND username=?`, user)
	var err error
	var res sql.NullString
	err = row.Scan(&res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		} else {
			return "", err
		}
	}
	return res.String, nil
}

// UpsertRemoteActor stores a freshly fetched remote actor document.
// Local rows, private keys and the disabled flag are never touched.
func (repo *Repo) UpsertRemoteActor(actor *Actor) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	now := time.Now().UTC()
	lastFetched := actor.LastFetchedAt
	if lastFetched.IsZero() {
		lastFetched = now
	}
	_, err := repo.db.Exec(`INSERT INTO actors
		(uri, username, domain, is_local, display_name, summary, key_id, pubkey, inbox, shared_inbox,
		 outbox, followers_url, following_url, manually_approves, created_at, updated_at, last_fetched_at)
		VALUES(?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			username=excluded.username, domain=excluded.domain, display_name=excluded.display_name,
			summary=excluded.summary, key_id=excluded.key_id, pubkey=excluded.pubkey, inbox=excluded.inbox,
			shared_inbox=excluded.shared_inbox, outbox=excluded.outbox, followers_url=excluded.followers_url,
			following_url=excluded.following_url, manually_approves=excluded.manually_approves,
			updated_at=excluded.updated_at, last_fetched_at=excluded.last_fetched_at
		WHERE actors.is_local=0`,
		actor.Uri, actor.Username, actor.Domain, actor.DisplayName, actor.Summary, actor.KeyId, actor.PubKey,
		actor.Inbox, actor.SharedInbox, actor.Outbox, actor.FollowersUrl, actor.FollowingUrl,
		actor.ManuallyApproves, now, now, lastFetched)
	return err
}

// DisableActor soft-deletes a remote actor and drops its follow edges in both directions.
func (repo *Repo) DisableActor(uri string) (changed bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE actors SET disabled=1, updated_at=? WHERE uri=? AND is_local=0 AND disabled=0`,
			time.Now().UTC(), uri)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		changed = true
		rows, err := tx.Query(`SELECT followee_uri FROM follows WHERE follower_uri=?
			UNION SELECT follower_uri FROM follows WHERE followee_uri=?`, uri, uri)
		if err != nil {
			return err
		}
		var others []string
		for rows.Next() {
			var other string
			if err = rows.Scan(&other); err != nil {
				_ = rows.Close()
				return err
			}
			others = append(others, other)
		}
		_ = rows.Close()
		if err = rows.Err(); err != nil {
			return err
		}
		if _, err = tx.Exec(`DELETE FROM follows WHERE follower_uri=? OR followee_uri=?`, uri, uri); err != nil {
			return err
		}
		return recomputeFollowCounts(tx, others...)
	})
	return
}

// Counts are recomputed from rows so that replays can never double-count.
func recomputeFollowCounts(q queryer, uris ...string) error {
	for _, uri := range uris {
		_, err := q.Exec(`UPDATE actors SET
			followers_count=(SELECT COUNT(*) FROM follows WHERE followee_uri=actors.uri AND status='accepted'),
			following_count=(SELECT COUNT(*) FROM follows WHERE follower_uri=actors.uri AND status='accepted')
			WHERE uri=?`, uri)
		if err != nil {
			return err
		}
	}
	return nil
}

func recomputeStatusesCount(q queryer, authorUri string) error {
	_, err := q.Exec(`UPDATE actors SET
		statuses_count=(SELECT COUNT(*) FROM statuses WHERE author_uri=actors.uri AND deleted=0)
		WHERE uri=?`, authorUri)
	return err
}

func recomputeLikesCount(q queryer, statusUri string) error {
	_, err := q.Exec(`UPDATE statuses SET likes_count=(SELECT COUNT(*) FROM likes WHERE status_uri=statuses.uri)
		WHERE uri=?`, statusUri)
	return err
}

// isUndone only counts Undos sent by the activity's own actor.
func isUndone(q queryer, actorUri, activityId string) (bool, error) {
	if activityId == "" {
		return false, nil
	}
	var count int
	if err := q.QueryRow(`SELECT COUNT(*) FROM undone_activities WHERE id=? AND actor_uri=?`,
		activityId, actorUri).Scan(&count); err != nil {
		return false, err
	}
	return count != 0, nil
}

func recordUndone(q queryer, actorUri, activityId string) error {
	if activityId == "" {
		return nil
	}
	_, err := q.Exec(`INSERT INTO undone_activities (id, actor_uri, undone_at) VALUES(?, ?, ?)
		ON CONFLICT DO NOTHING`, activityId, actorUri, time.Now().UTC())
	return err
}

// AddFollow inserts the edge, or refreshes the activity ID and status of an existing one.
// WriteExisted means the edge was already there with the same status.
func (repo *Repo) AddFollow(follow *Follow) (res WriteResult, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		undone, err := isUndone(tx, follow.FollowerUri, follow.ActivityId)
		if err != nil {
			return err
		}
		if undone {
			res = WriteCancelled
			return nil
		}
		var oldStatus string
		err = tx.QueryRow(`SELECT status FROM follows WHERE follower_uri=? AND followee_uri=?`,
			follow.FollowerUri, follow.FolloweeUri).Scan(&oldStatus)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil && FollowStatus(oldStatus) == follow.Status {
			res = WriteExisted
		} else {
			res = WriteInserted
		}
		createdAt := follow.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.Exec(`INSERT INTO follows (follower_uri, followee_uri, status, activity_id, created_at)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT DO UPDATE SET status=excluded.status, activity_id=excluded.activity_id`,
			follow.FollowerUri, follow.FolloweeUri, follow.Status, follow.ActivityId, createdAt)
		if err != nil {
			return err
		}
		return recomputeFollowCounts(tx, follow.FollowerUri, follow.FolloweeUri)
	})
	return
}

func (repo *Repo) GetFollow(followerUri, followeeUri string) (*Follow, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT follower_uri, followee_uri, status, activity_id, created_at
		FROM follows WHERE follower_uri=? AND followee_uri=?`, followerUri, followeeUri)
	var res Follow
	err := row.Scan(&res.FollowerUri, &res.FolloweeUri, &res.Status, &res.ActivityId, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// GetFollowByActivityId finds the edge created by a given Follow, for Accepts and Rejects that only name it.
func (repo *Repo) GetFollowByActivityId(activityId string) (*Follow, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT follower_uri, followee_uri, status, activity_id, created_at
		FROM follows WHERE activity_id=?`, activityId)
	var res Follow
	err := row.Scan(&res.FollowerUri, &res.FolloweeUri, &res.Status, &res.ActivityId, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (repo *Repo) SetFollowStatus(followerUri, followeeUri string, status FollowStatus) (changed bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE follows SET status=? WHERE follower_uri=? AND followee_uri=? AND status<>?`,
			status, followerUri, followeeUri, status)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		changed = true
		return recomputeFollowCounts(tx, followerUri, followeeUri)
	})
	return
}

// RemoveFollow deletes the edge and remembers the activity ID as undone, so a late Follow stays cancelled.
func (repo *Repo) RemoveFollow(followerUri, followeeUri, activityId string) (removed bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		if err := recordUndone(tx, followerUri, activityId); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM follows WHERE follower_uri=? AND followee_uri=?`, followerUri, followeeUri)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		removed = true
		return recomputeFollowCounts(tx, followerUri, followeeUri)
	})
	return
}

// GetFollowerInboxes returns the distinct delivery inboxes of accepted remote followers.
func (repo *Repo) GetFollowerInboxes(followeeUri string) ([]string, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	rows, err := repo.db.Query(`SELECT DISTINCT
		CASE WHEN actors.shared_inbox<>'' THEN actors.shared_inbox ELSE actors.inbox END
		FROM follows JOIN actors ON follows.follower_uri=actors.uri
		WHERE follows.followee_uri=? AND follows.status='accepted' AND actors.is_local=0 AND actors.disabled=0`,
		followeeUri)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]string, 0)
	for rows.Next() {
		var inbox string
		if err = rows.Scan(&inbox); err != nil {
			return nil, err
		}
		res = append(res, inbox)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// AddStatusIfNew inserts the status once; visibility and reply parent are never rewritten.
func (repo *Repo) AddStatusIfNew(status *Status) (isNew bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	recipients := status.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	var recipientsJson []byte
	if recipientsJson, err = json.Marshal(recipients); err != nil {
		return false, err
	}

	err = repo.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO statuses
			(uri, author_uri, content, summary, visibility, in_reply_to, recipients, published, is_local)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO NOTHING`,
			status.Uri, status.AuthorUri, status.Content, status.Summary, status.Visibility, status.InReplyTo,
			string(recipientsJson), status.Published, status.IsLocal)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		isNew = true
		return recomputeStatusesCount(tx, status.AuthorUri)
	})
	return
}

func (repo *Repo) GetStatus(uri string) (*Status, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT `+statusColumns+` FROM statuses WHERE uri=?`, uri)
	var res Status
	var recipientsJson string
	var deletedAt sql.NullTime
	err := row.Scan(&res.Id, &res.Uri, &res.AuthorUri, &res.Content, &res.Summary, &res.Visibility, &res.InReplyTo,
		&recipientsJson, &res.Published, &res.IsLocal, &res.Deleted, &deletedAt, &res.LikesCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err = json.Unmarshal([]byte(recipientsJson), &res.Recipients); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		res.DeletedAt = &deletedAt.Time
	}
	return &res, nil
}

// TombstoneStatus clears the content and flags the status as deleted. Likes go with it.
func (repo *Repo) TombstoneStatus(uri string, when time.Time) (changed bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		var authorUri string
		err := tx.QueryRow(`SELECT author_uri FROM statuses WHERE uri=? AND deleted=0`, uri).Scan(&authorUri)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		_, err = tx.Exec(`UPDATE statuses SET deleted=1, deleted_at=?, content='', summary='', likes_count=0
			WHERE uri=?`, when, uri)
		if err != nil {
			return err
		}
		if _, err = tx.Exec(`DELETE FROM likes WHERE status_uri=?`, uri); err != nil {
			return err
		}
		changed = true
		return recomputeStatusesCount(tx, authorUri)
	})
	return
}

func (repo *Repo) AddLike(like *Like) (res WriteResult, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		undone, err := isUndone(tx, like.ActorUri, like.ActivityId)
		if err != nil {
			return err
		}
		if undone {
			res = WriteCancelled
			return nil
		}
		createdAt := like.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		ins, err := tx.Exec(`INSERT INTO likes (actor_uri, status_uri, activity_id, created_at) VALUES(?, ?, ?, ?)
			ON CONFLICT DO NOTHING`, like.ActorUri, like.StatusUri, like.ActivityId, createdAt)
		if err != nil {
			return err
		}
		if n, _ := ins.RowsAffected(); n == 0 {
			res = WriteExisted
			return nil
		}
		res = WriteInserted
		return recomputeLikesCount(tx, like.StatusUri)
	})
	return
}

func (repo *Repo) GetLike(actorUri, statusUri string) (*Like, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	row := repo.db.QueryRow(`SELECT actor_uri, status_uri, activity_id, created_at
		FROM likes WHERE actor_uri=? AND status_uri=?`, actorUri, statusUri)
	var res Like
	err := row.Scan(&res.ActorUri, &res.StatusUri, &res.ActivityId, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (repo *Repo) RemoveLike(actorUri, statusUri, activityId string) (removed bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		if err := recordUndone(tx, actorUri, activityId); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM likes WHERE actor_uri=? AND status_uri=?`, actorUri, statusUri)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		removed = true
		return recomputeLikesCount(tx, statusUri)
	})
	return
}

// UndoByActivityId handles an Undo that only names the original activity.
// Only edges created by actorUri itself are removed.
func (repo *Repo) UndoByActivityId(actorUri, activityId string) (removed bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	err = repo.inTx(func(tx *sql.Tx) error {
		if err := recordUndone(tx, actorUri, activityId); err != nil {
			return err
		}
		var followeeUri string
		err := tx.QueryRow(`SELECT followee_uri FROM follows WHERE follower_uri=? AND activity_id=?`,
			actorUri, activityId).Scan(&followeeUri)
		if err == nil {
			if _, err = tx.Exec(`DELETE FROM follows WHERE follower_uri=? AND followee_uri=?`,
				actorUri, followeeUri); err != nil {
				return err
			}
			removed = true
			return recomputeFollowCounts(tx, actorUri, followeeUri)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var statusUri string
		err = tx.QueryRow(`SELECT status_uri FROM likes WHERE actor_uri=? AND activity_id=?`,
			actorUri, activityId).Scan(&statusUri)
		if err == nil {
			if _, err = tx.Exec(`DELETE FROM likes WHERE actor_uri=? AND status_uri=?`,
				actorUri, statusUri); err != nil {
				return err
			}
			removed = true
			return recomputeLikesCount(tx, statusUri)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return nil
	})
	return
}

func (repo *Repo) MarkActivityHandled(id string, when time.Time) (alreadyHandled bool, err error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err = repo.db.Exec(`INSERT INTO handled_activities (id, handled_at) VALUES (?, ?)`, id, when.UTC())
	if err == nil {
		return false, nil
	}
	// Duplicate key: activity was handled before
	if isDuplicateKey(err) {
		return true, nil
	}
	return false, err
}

// UnmarkActivityHandled lets a redelivery of the activity be processed again.
func (repo *Repo) UnmarkActivityHandled(id string) error {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	_, err := repo.db.Exec(`DELETE FROM handled_activities WHERE id=?`, id)
	return err
}

func (repo *Repo) IsActivityHandled(id string) (bool, error) {

	repo.muDb.RLock()
	defer repo.muDb.RUnlock()

	var count int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM handled_activities WHERE id=?`, id).Scan(&count); err != nil {
		return false, err
	}
	return count != 0, nil
}

// PurgeActivityLog forgets handled and undone activity IDs older than the cutoff.
func (repo *Repo) PurgeActivityLog(before time.Time) (int64, error) {

	repo.muDb.Lock()
	defer repo.muDb.Unlock()

	var total int64
	err := repo.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM handled_activities WHERE handled_at<?`, before.UTC())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += n
		if res, err = tx.Exec(`DELETE FROM undone_activities WHERE undone_at<?`, before.UTC()); err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	return total, err
}
