// Package test holds the integration tests of the backend against real
// infrastructure. The containers are started with testcontainers, the tests
// are skipped if no docker daemon is available or in short mode.
package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/basebone/core/backend"
	"github.com/relabs-tech/basebone/core/client"
	"github.com/relabs-tech/basebone/core/csql"
	"github.com/relabs-tech/basebone/core/notify"
	"github.com/relabs-tech/basebone/core/storage/pgstore"
)

const notificationTopic = "basebone_notifications"

const configurationJSON = `{
	"apps": ["auth", "blog"],
	"user_entity": "auth.user",
	"entities": [
		{
			"app": "auth",
			"name": "profile",
			"fields": [
				{"name": "bio", "type": "text"}
			]
		},
		{
			"app": "auth",
			"name": "user",
			"fields": [
				{"name": "username", "type": "string", "required": true, "unique": true, "max_length": 150},
				{"name": "password", "type": "string", "write_only": true},
				{"name": "profile", "type": "relation", "target": "profile", "null": true, "on_delete": "set_null", "related_name": "users"}
			]
		},
		{
			"app": "blog",
			"name": "post",
			"fields": [
				{"name": "title", "type": "string", "required": true, "max_length": 200},
				{"name": "status", "type": "string", "choices": ["draft", "published"], "default": "draft"},
				{"name": "views", "type": "int", "default": 0},
				{"name": "author", "type": "relation", "target": "auth.user", "required": true, "related_name": "posts"},
				{"name": "created_at", "type": "time", "auto_now_add": true}
			],
			"admin": {
				"auth_filter_field": "author"
			}
		},
		{
			"app": "blog",
			"name": "comment",
			"fields": [
				{"name": "post", "type": "relation", "target": "post", "required": true, "related_name": "comments"},
				{"name": "text", "type": "text", "required": true}
			]
		}
	]
}`

// IntegrationTestSuite runs a backend on postgres which publishes its notifications
// to kafka
type IntegrationTestSuite struct {
	*backend.Backend
	suite.Suite

	dbConn *csql.DB
	router *mux.Router
	bus    *notify.Bus
	admin  client.Client

	network           testcontainers.Network
	kafkaContainer    testcontainers.Container
	zookeeper         testcontainers.Container
	postgresContainer testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string
	postgresAddr      string
	postgresUser      string
	postgresPassword  string
	postgresDB        string
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}

	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

// reader returns a reader of the notification topic from the first offset
func (s *IntegrationTestSuite) reader() *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       notificationTopic,
		Partition:   0,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
}

func (s *IntegrationTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("integration tests are skipped in short mode")
	}
	ctx := context.Background()

	// Create a shared Docker network for Kafka and Zookeeper
	networkName := "test-kafka-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	if err != nil {
		s.T().Skipf("docker is not available: %s", err)
	}
	s.network = network

	// Start PostgreSQL container
	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"postgres"}},
		WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	s.postgresAddr = fmt.Sprintf("%s:%s", pgHost, pgPort.Port())
	s.postgresUser = postgresUser
	s.postgresPassword = postgresPassword
	s.postgresDB = postgresDB

	zooReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-zookeeper:7.5.0",
		ExposedPorts: []string{"2181/tcp"},
		Env: map[string]string{
			"ZOOKEEPER_CLIENT_PORT": "2181",
			"ZOOKEEPER_TICK_TIME":   "2000",
		},
		WaitingFor:     wait.ForListeningPort("2181/tcp"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
	}
	s.zookeeper, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: zooReq,
		Started:          true,
	})
	s.Require().NoError(err)

	kafkaReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-kafka:7.5.0",
		ExposedPorts: []string{"9092:9092/tcp", "29092:29092/tcp"},
		Env: map[string]string{
			"KAFKA_BROKER_ID":                        "1",
			"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
			"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092,EXTERNAL://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,PLAINTEXT_HOST://localhost:29092,EXTERNAL://kafka:9093",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT,EXTERNAL:PLAINTEXT",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			"ALLOW_PLAINTEXT_LISTENER":               "yes",
		},
		WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"kafka"}},
	}
	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: kafkaReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	err = s.createTopic(notificationTopic, 1)
	s.Require().NoError(err, "Failed to create notification topic")

	s.dbConn, err = csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), s.postgresUser, s.postgresDB), s.postgresPassword, "integration")
	s.Require().NoError(err)

	// one worker keeps the notifications of an instance in order
	s.bus = notify.NewBus(notify.Options{Concurrency: 1},
		notify.NewKafkaSink([]string{s.kafkaAddr}, notificationTopic))

	store := pgstore.New(s.dbConn)
	s.router = mux.NewRouter()
	s.Backend = backend.New(&backend.Builder{
		Config: configurationJSON,
		Store:  store,
		Router: s.router,
		DB:     s.dbConn,
		Bus:    s.bus,
		PasswordHasher: func(password string) (string, error) {
			return "hashed:" + password, nil
		},
	})
	s.Require().NoError(store.Migrate(ctx, s.Registry.Entities()))
	s.admin = client.NewWithRouter(s.router).WithAdminAuthorization()
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.bus != nil {
		s.bus.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.dbConn != nil {
		s.NoError(s.dbConn.ClearSchema())
		s.dbConn.Close()
	}
	for _, c := range []testcontainers.Container{s.kafkaContainer, s.zookeeper, s.postgresContainer} {
		if c != nil {
			s.NoError(c.Terminate(ctx))
		}
	}
	if s.network != nil {
		s.NoError(s.network.Remove(ctx))
	}
}
