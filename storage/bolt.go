package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/autowebkit/autowebkit/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	scriptsBucket          = []byte("scripts")
	scriptExecutionsBucket = []byte("script_executions")
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("not found")

type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(dbPath string) (*BoltDB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create database directory %s", dir)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s (directory: %s)", dbPath, dir)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{scriptsBucket, scriptExecutionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, key string, v any) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return errors.Wrapf(ErrNotFound, "%s %s", bucket, key)
	}
	return json.Unmarshal(data, v)
}

// SaveScript stores script, assigning an ID and timestamps when missing.
func (b *BoltDB) SaveScript(script *models.ScriptDefinition) error {
	now := time.Now()
	if script.ID == "" {
		script.ID = uuid.New().String()
	}
	if script.CreatedAt.IsZero() {
		script.CreatedAt = now
	}
	script.UpdatedAt = now

	return b.db.Update(func(tx *bolt.Tx) error {
		return put(tx, scriptsBucket, script.ID, script)
	})
}

// GetScript loads one script.
func (b *BoltDB) GetScript(id string) (*models.ScriptDefinition, error) {
	var script models.ScriptDefinition
	err := b.db.View(func(tx *bolt.Tx) error {
		return get(tx, scriptsBucket, id, &script)
	})
	if err != nil {
		return nil, err
	}
	return &script, nil
}

// ListScripts returns all scripts, newest first.
func (b *BoltDB) ListScripts() ([]*models.ScriptDefinition, error) {
	var scripts []*models.ScriptDefinition
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(scriptsBucket).ForEach(func(k, v []byte) error {
			var script models.ScriptDefinition
			if err := json.Unmarshal(v, &script); err != nil {
				return errors.Wrapf(err, "decode script %s", k)
			}
			scripts = append(scripts, &script)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scripts, func(i, j int) bool {
		return scripts[i].CreatedAt.After(scripts[j].CreatedAt)
	})
	return scripts, nil
}

// UpdateScript overwrites an existing script.
func (b *BoltDB) UpdateScript(script *models.ScriptDefinition) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(scriptsBucket).Get([]byte(script.ID)) == nil {
			return errors.Wrapf(ErrNotFound, "scripts %s", script.ID)
		}
		script.UpdatedAt = time.Now()
		return put(tx, scriptsBucket, script.ID, script)
	})
}

// DeleteScript removes a script and its execution records.
func (b *BoltDB) DeleteScript(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(scriptsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		return deleteExecutions(tx, id)
	})
}

// SaveScriptExecution stores one run record.
func (b *BoltDB) SaveScriptExecution(execution *models.ScriptExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return put(tx, scriptExecutionsBucket, execution.ID, execution)
	})
}

// GetScriptExecution loads one run record.
func (b *BoltDB) GetScriptExecution(id string) (*models.ScriptExecution, error) {
	var execution models.ScriptExecution
	err := b.db.View(func(tx *bolt.Tx) error {
		return get(tx, scriptExecutionsBucket, id, &execution)
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// ListScriptExecutions returns run records, newest first, optionally only
// those of scriptID.
func (b *BoltDB) ListScriptExecutions(scriptID string) ([]*models.ScriptExecution, error) {
	var executions []*models.ScriptExecution
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(scriptExecutionsBucket).ForEach(func(k, v []byte) error {
			var execution models.ScriptExecution
			if err := json.Unmarshal(v, &execution); err != nil {
				return errors.Wrapf(err, "decode execution %s", k)
			}
			if scriptID == "" || execution.ScriptID == scriptID {
				executions = append(executions, &execution)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartTime.After(executions[j].StartTime)
	})
	return executions, nil
}

// DeleteScriptExecution removes one run record.
func (b *BoltDB) DeleteScriptExecution(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(scriptExecutionsBucket).Delete([]byte(id))
	})
}

// DeleteScriptExecutionsByScriptID removes every run record of scriptID.
func (b *BoltDB) DeleteScriptExecutionsByScriptID(scriptID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return deleteExecutions(tx, scriptID)
	})
}

func deleteExecutions(tx *bolt.Tx, scriptID string) error {
	bucket := tx.Bucket(scriptExecutionsBucket)
	// collect first, deleting inside ForEach is not allowed
	var keys [][]byte
	err := bucket.ForEach(func(k, v []byte) error {
		var execution models.ScriptExecution
		if err := json.Unmarshal(v, &execution); err != nil {
			return err
		}
		if execution.ScriptID == scriptID {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
