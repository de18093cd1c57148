// Package history caches the encrypted wire form of messages on disk so a
// reopened client can show a room before the relay answers. Plaintext is
// never written.
package history

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/omochice/cipherchat/pkg/protocol"
)

// DefaultLimit bounds Load when no limit is given.
const DefaultLimit = 200

// Cache is a badger-backed message cache.
//
// Keys are "msg:{hex room}:{created at, 19 digit ns}:{id}" so that a prefix
// scan returns a room in chronological order, plus "idx:{id}" pointing at
// the message key for status updates.
type Cache struct {
	db  *badger.DB
	log *slog.Logger
}

// Open opens or creates a cache under path.
func Open(path string, log *slog.Logger) (*Cache, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", path, err)
	}
	return newCache(db, log), nil
}

// OpenInMemory returns a cache that lives for the process only.
func OpenInMemory(log *slog.Logger) (*Cache, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory history: %w", err)
	}
	return newCache(db, log), nil
}

func newCache(db *badger.DB, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{db: db, log: log}
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func roomPrefix(roomID string) []byte {
	return []byte("msg:" + hex.EncodeToString([]byte(roomID)) + ":")
}

func messageKey(msg protocol.WireMessage) []byte {
	var ts int64
	if msg.CreatedAt.Unix() > 0 {
		ts = msg.CreatedAt.UnixNano()
	}
	return fmt.Appendf(roomPrefix(msg.RoomID), "%019d:%s", ts, msg.ID)
}

func indexKey(id string) []byte {
	return []byte("idx:" + id)
}

// Record stores or overwrites one message.
func (c *Cache) Record(msg protocol.WireMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	key := messageKey(msg)

	return c.db.Update(func(txn *badger.Txn) error {
		prev, err := lookup(txn, msg.ID)
		if err != nil {
			return err
		}
		if prev != nil && string(prev) != string(key) {
			if err := txn.Delete(prev); err != nil {
				return err
			}
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
}

// Replace makes msgs the complete cached content of roomID.
func (c *Cache) Replace(roomID string, msgs []protocol.WireMessage) error {
	prefix := roomPrefix(roomID)
	var stale [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan room %s: %w", roomID, err)
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return err
		}
		if err := wb.Delete(indexKey(idFromKey(key))); err != nil {
			return err
		}
	}
	for _, msg := range msgs {
		msg.RoomID = roomID
		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
		}
		key := messageKey(msg)
		if err := wb.Set(key, value); err != nil {
			return err
		}
		if err := wb.Set(indexKey(msg.ID), key); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to replace room %s: %w", roomID, err)
	}
	c.log.Debug("history replaced", "room", roomID, "stale", len(stale), "messages", len(msgs))
	return nil
}

// UpdateStatus raises the cached status of id. Unknown ids and backward
// moves are ignored.
func (c *Cache) UpdateStatus(id string, status protocol.Status) error {
	return c.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, id)
		if err != nil || key == nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var msg protocol.WireMessage
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &msg) }); err != nil {
			return fmt.Errorf("failed to decode message %s: %w", id, err)
		}
		if !msg.Status.Before(status) {
			return nil
		}
		msg.Status = status
		value, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
}

// Load returns the latest limit messages of roomID, oldest first.
func (c *Cache) Load(roomID string, limit int) ([]protocol.WireMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	prefix := roomPrefix(roomID)

	var msgs []protocol.WireMessage
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// seek past the newest possible timestamp and walk backwards
		for it.Seek(append(slices.Clone(prefix), "9999999999999999999;"...)); it.ValidForPrefix(prefix); it.Next() {
			if len(msgs) == limit {
				break
			}
			var msg protocol.WireMessage
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &msg) }); err != nil {
				c.log.Warn("skipping unreadable history entry", "key", string(it.Item().Key()), "error", err)
				continue
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func lookup(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// idFromKey extracts the id after the third separator of a message key.
func idFromKey(key []byte) string {
	n := 0
	for i, b := range key {
		if b == ':' {
			n++
			if n == 3 {
				return string(key[i+1:])
			}
		}
	}
	return ""
}
