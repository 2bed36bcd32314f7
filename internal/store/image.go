package store

import (
	"database/sql"
	"time"
)

// AddImage stores image bytes and returns the new image id.
func (db *DB) AddImage(filename string, data []byte) (int64, error) {
	res, err := db.Exec(`INSERT INTO images (filename, data, created_at) VALUES (?, ?, ?)`,
		filename, data, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Image returns a stored image, or nil if id is unknown.
func (db *DB) Image(id int64) (*Image, error) {
	img := Image{ID: id}
	err := db.QueryRow(`SELECT filename, data FROM images WHERE id = ?`, id).Scan(&img.Filename, &img.Data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}
