package store

import (
	"database/sql"
	"time"
)

// FindBuddy returns the buddy for userID, or nil if it is not on the list.
func (db *DB) FindBuddy(userID int64) (*Buddy, error) {
	var b Buddy
	err := db.QueryRow(`
		SELECT user_id, group_name, alias, custom_alias, online, mobile, last_seen, avatar_checksum
		FROM buddies WHERE user_id = ?`, userID).
		Scan(&b.UserID, &b.Group, &b.Alias, &b.CustomAlias, &b.Online, &b.Mobile, &b.LastSeen, &b.AvatarChecksum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AddBuddy adds userID to group with an initial alias. It reports whether a
// new entry was created; an existing entry is left untouched.
func (db *DB) AddBuddy(userID int64, group, alias string) (bool, error) {
	res, err := db.Exec(`
		INSERT OR IGNORE INTO buddies (user_id, group_name, alias, updated_at)
		VALUES (?, ?, ?, ?)`,
		userID, group, alias, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveBuddy deletes userID from the buddy list.
func (db *DB) RemoveBuddy(userID int64) error {
	_, err := db.Exec(`DELETE FROM buddies WHERE user_id = ?`, userID)
	return err
}

// ListBuddies returns all buddies ordered by alias.
func (db *DB) ListBuddies() ([]Buddy, error) {
	rows, err := db.Query(`
		SELECT user_id, group_name, alias, custom_alias, online, mobile, last_seen, avatar_checksum
		FROM buddies ORDER BY online DESC, alias COLLATE NOCASE ASC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var buddies []Buddy
	for rows.Next() {
		var b Buddy
		if err := rows.Scan(&b.UserID, &b.Group, &b.Alias, &b.CustomAlias, &b.Online, &b.Mobile, &b.LastSeen, &b.AvatarChecksum); err != nil {
			return nil, err
		}
		buddies = append(buddies, b)
	}
	return buddies, rows.Err()
}

// BuddyIDs returns the ids of every buddy-list entry.
func (db *DB) BuddyIDs() ([]int64, error) {
	rows, err := db.Query(`SELECT user_id FROM buddies ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAlias stores the server-provided alias unless the user set a custom one.
func (db *DB) SetAlias(userID int64, alias string) error {
	_, err := db.Exec(`
		UPDATE buddies SET alias = ?, updated_at = ?
		WHERE user_id = ? AND custom_alias = 0 AND alias != ?`,
		alias, time.Now().UnixMilli(), userID, alias)
	return err
}

// SetCustomAlias pins a locally chosen alias. An empty alias unpins it so
// the next sync restores the server name.
func (db *DB) SetCustomAlias(userID int64, alias string) error {
	_, err := db.Exec(`
		UPDATE buddies SET alias = ?, custom_alias = ?, updated_at = ?
		WHERE user_id = ?`,
		alias, alias != "", time.Now().UnixMilli(), userID)
	return err
}

// SetPresence updates the online state.
func (db *DB) SetPresence(userID int64, online, mobile bool) error {
	_, err := db.Exec(`
		UPDATE buddies SET online = ?, mobile = ?, updated_at = ? WHERE user_id = ?`,
		online, mobile, time.Now().UnixMilli(), userID)
	return err
}

// SetLastSeen records the last-seen time in epoch seconds.
func (db *DB) SetLastSeen(userID, lastSeen int64) error {
	_, err := db.Exec(`
		UPDATE buddies SET last_seen = ?, updated_at = ? WHERE user_id = ?`,
		lastSeen, time.Now().UnixMilli(), userID)
	return err
}

// SetAvatar stores avatar bytes with the checksum they were fetched for.
// nil data with an empty checksum clears the avatar.
func (db *DB) SetAvatar(userID int64, data []byte, checksum string) error {
	_, err := db.Exec(`
		UPDATE buddies SET avatar = ?, avatar_checksum = ?, updated_at = ? WHERE user_id = ?`,
		data, checksum, time.Now().UnixMilli(), userID)
	return err
}

// Avatar returns the stored avatar bytes and checksum.
func (db *DB) Avatar(userID int64) ([]byte, string, error) {
	var data []byte
	var checksum string
	err := db.QueryRow(`SELECT avatar, avatar_checksum FROM buddies WHERE user_id = ?`, userID).Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	return data, checksum, err
}
