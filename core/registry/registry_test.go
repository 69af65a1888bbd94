package registry_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/docrest/core/cmongo"
	"github.com/relabs-tech/docrest/core/registry"
)

type RegistryTestSuite struct {
	suite.Suite
	container testcontainers.Container
	db        *cmongo.DB
	registry  *registry.Registry
}

func TestRegistryTestSuite(t *testing.T) {
	if os.Getenv("DOCREST_CONTAINER_TESTS") == "" {
		t.Skip("container tests disabled, set DOCREST_CONTAINER_TESTS=1 to run them")
	}
	suite.Run(t, new(RegistryTestSuite))
}

func (s *RegistryTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "27017")
	s.Require().NoError(err)

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := cmongo.Open(openCtx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "registry_test")
	s.Require().NoError(err)
	s.db = db
	s.registry = registry.New(db)
}

func (s *RegistryTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.db != nil {
		s.Require().NoError(s.db.Close(ctx))
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(ctx))
	}
}

func (s *RegistryTestSuite) TestReadWriteDelete() {
	acc := s.registry.Accessor("_test_")

	type state struct {
		Counter int    `json:"counter"`
		Note    string `json:"note"`
	}

	var missing state
	timestamp, err := acc.Read("absent", &missing)
	s.Require().NoError(err)
	s.True(timestamp.IsZero(), "absent keys read as zero timestamp")

	before := time.Now().UTC()
	s.Require().NoError(acc.Write("state", state{Counter: 1, Note: "first"}))

	var got state
	timestamp, err = acc.Read("state", &got)
	s.Require().NoError(err)
	s.Equal(state{Counter: 1, Note: "first"}, got)
	s.False(timestamp.Before(before.Add(-time.Second)))

	// writes upsert
	s.Require().NoError(acc.Write("state", state{Counter: 2, Note: "second"}))
	_, err = acc.Read("state", &got)
	s.Require().NoError(err)
	s.Equal(2, got.Counter)

	// prefixes isolate accessors
	other := s.registry.Accessor("_other_")
	timestamp, err = other.Read("state", &got)
	s.Require().NoError(err)
	s.True(timestamp.IsZero())

	s.Require().NoError(acc.Delete("state"))
	timestamp, err = acc.Read("state", &got)
	s.Require().NoError(err)
	s.True(timestamp.IsZero())
}
