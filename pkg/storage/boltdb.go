package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cazacugmihai/fleetctl/pkg/apierror"
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSnapshots  = []byte("snapshots")
	bucketCurrent    = []byte("current")
	bucketDeployments = []byte("deployments")
)

const currentKey = "root"

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketCurrent, bucketDeployments} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SaveSnapshot(root snapshot.RootGroup) error {
	key := []byte(root.Version().String())
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(root)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) LoadSnapshot(version snapshot.Timestamp) (snapshot.RootGroup, error) {
	var root snapshot.RootGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data := b.Get([]byte(version.String()))
		if data == nil {
			return apierror.New(apierror.KindUnknownVersion, "snapshot not found: "+version.String())
		}
		return json.Unmarshal(data, &root)
	})
	return root, err
}

func (s *BoltStore) ListVersions() ([]snapshot.Timestamp, error) {
	var versions []snapshot.Timestamp
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.ForEach(func(k, v []byte) error {
			ts, err := snapshot.Parse(string(k))
			if err != nil {
				return err
			}
			versions = append(versions, ts)
			return nil
		})
	})
	return versions, err
}

func (s *BoltStore) CurrentVersion() (snapshot.Timestamp, error) {
	var current snapshot.Timestamp
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrent)
		data := b.Get([]byte(currentKey))
		if data == nil {
			current = snapshot.Zero
			return nil
		}
		ts, err := snapshot.Parse(string(data))
		if err != nil {
			return err
		}
		current = ts
		return nil
	})
	return current, err
}

func (s *BoltStore) CompareAndSwapCurrent(expected, next snapshot.Timestamp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrent)
		data := b.Get([]byte(currentKey))

		var actual snapshot.Timestamp
		if data != nil {
			ts, err := snapshot.Parse(string(data))
			if err != nil {
				return err
			}
			actual = ts
		}

		if !actual.Equal(expected) {
			return apierror.New(apierror.KindDeploymentInFlight, "current version changed concurrently")
		}
		return b.Put([]byte(currentKey), []byte(next.String()))
	})
}

func (s *BoltStore) SaveDeploymentPlan(plan planner.DeploymentPlan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(plan)
		if err != nil {
			return err
		}
		return b.Put([]byte(plan.ID), data)
	})
}

func (s *BoltStore) GetDeploymentPlan(id string) (planner.DeploymentPlan, error) {
	var plan planner.DeploymentPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return apierror.New(apierror.KindUnknownGroup, "deployment not found: "+id)
		}
		return json.Unmarshal(data, &plan)
	})
	return plan, err
}

func (s *BoltStore) ListDeploymentPlans() ([]planner.DeploymentPlan, error) {
	var plans []planner.DeploymentPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var plan planner.DeploymentPlan
			if err := json.Unmarshal(v, &plan); err != nil {
				return err
			}
			plans = append(plans, plan)
			return nil
		})
	})
	return plans, err
}

func (s *BoltStore) DeleteDeploymentPlan(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.Delete([]byte(id))
	})
}
