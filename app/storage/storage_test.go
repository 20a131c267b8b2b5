package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pkgz/testutils/containers"
	"github.com/stretchr/testify/suite"

	"github.com/commently/toxguard/app/storage/engine"
)

// StorageTestSuite runs every storage test against all supported engines:
// sqlite on a temp file always, postgres in a container unless -short is set.
type StorageTestSuite struct {
	suite.Suite
	dbs         map[string]*engine.SQL
	pgContainer *containers.PostgresTestContainer
	sqliteFile  string
	ctx         context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageTestSuite))
}

func (s *StorageTestSuite) SetupSuite() {
	s.ctx = context.Background()
	s.dbs = make(map[string]*engine.SQL)

	// file-based sqlite to avoid lock contention in parallel tests
	s.sqliteFile = filepath.Join(os.TempDir(), fmt.Sprintf("test-%d-%d.db", os.Getpid(), time.Now().UnixNano()))
	s.T().Logf("sqlite file: %s", s.sqliteFile)
	sqliteDB, err := engine.NewSqlite(s.sqliteFile)
	s.Require().NoError(err)
	s.dbs["sqlite"] = sqliteDB

	if !testing.Short() {
		s.T().Log("starting postgres container")
		s.pgContainer = containers.NewPostgresTestContainerWithDB(s.ctx, s.T(), "test")
		pgDB, err := engine.NewPostgres(s.ctx, s.pgContainer.ConnectionString())
		s.Require().NoError(err)
		s.dbs["postgres"] = pgDB
	}
}

func (s *StorageTestSuite) TearDownSuite() {
	for _, db := range s.dbs {
		db.Close()
	}
	if s.sqliteFile != "" {
		_ = os.Remove(s.sqliteFile)
	}
}

// SetupTest drops the tables before each test to ensure a clean state
func (s *StorageTestSuite) SetupTest() {
	for _, db := range s.dbs {
		_, _ = db.Exec("DROP TABLE IF EXISTS comments")
		_, _ = db.Exec("DROP TABLE IF EXISTS notifications")
	}
}

// getTestDB returns all the test databases to use for testing
func (s *StorageTestSuite) getTestDB() []*engine.SQL {
	var result []*engine.SQL
	for _, db := range s.dbs {
		result = append(result, db)
	}
	return result
}
