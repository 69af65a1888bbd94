package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/docrest/core/access"
	"github.com/relabs-tech/docrest/core/cmongo"
	"github.com/relabs-tech/docrest/core/docstore"
	"github.com/relabs-tech/docrest/core/events"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/registry"
	"github.com/relabs-tech/docrest/core/rest"
	"github.com/relabs-tech/docrest/core/schema"
)

var configurationJSON string = `
{
	"collections": [
	  {
		"resource": "person",
		"fields": ["name", "birthday", "age", "_organization", "password"],
		"rename": {"_organization": "organization_id"},
		"hidden": ["password"],
		"schema_id": "person.json",
		"filters": [
		  {"name": "name", "operators": ["exact", "ne", "startswith"]},
		  {"name": "age", "operators": ["lt", "lte", "gt", "gte", "exists"]},
		  {"name": "organization", "field": "organization_id", "operators": ["exact", "in"]}
		],
		"orderings": ["name", "birthday"],
		"related": [
		  {"field": "organization_id", "resource": "organization"}
		],
		"children": [
		  {"discriminator": "Person.Employee", "resource": "employee"}
		]
	  },
	  {
		"resource": "employee",
		"virtual": true,
		"fields": ["name", "birthday", "age", "_organization", "employee_number", "_cls"],
		"rename": {"_organization": "organization_id"}
	  },
	  {
		"resource": "organization",
		"fields": ["name", "vat_number"],
		"filters": [
		  {"name": "name", "operators": ["exact", "startswith"]}
		],
		"orderings": ["name"]
	  },
	  {
		"resource": "api_key",
		"permits": [
		  {"role": "keymanager", "operations": ["create", "read", "update", "delete", "list"]}
		]
	  }
	]
}
`

var personSchemaJSON string = `
{
	"$id": "person.json",
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"birthday": {"type": "string", "format": "date"},
		"age": {"type": "integer", "minimum": 0},
		"organization_id": {"type": ["string", "null"]}
	},
	"required": ["name"]
}
`

// Service holds the configuration for this service
//
// use MONGODB="mongodb://localhost:27017"
type Service struct {
	Mongodb       string `env:"MONGODB,required" description:"the connection string for the MongoDB server"`
	MongodbName   string `env:"MONGODB_NAME,default=directory" description:"the database name"`
	Port          string `env:"PORT,default=3000" description:"the port to listen on"`
	JwtSecret     string `env:"JWT_SECRET,optional" description:"shared secret for HS256 signed token"`
	JwtKeysURL    string `env:"JWT_KEYS_URL,optional" description:"download url for RS256 public keys"`
	JwtIssuer     string `env:"JWT_ISSUER,optional" description:"accepted token issuer"`
	KafkaBrokers  string `env:"KAFKA_BROKERS,optional" description:"comma-separated Kafka brokers for change notifications"`
	KafkaTopic    string `env:"KAFKA_TOPIC,default=directory-events" description:"the Kafka topic for change notifications"`
	LogLevelDebug bool   `env:"LOG_LEVEL_DEBUG,default=false" description:"enable debug logging"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logLevel := logrus.InfoLevel
	if service.LogLevelDebug {
		logLevel = logrus.DebugLevel
	}
	logger.InitLogger(logLevel)
	rlog := logger.Default()

	db := cmongo.MustOpen(service.Mongodb, service.MongodbName)
	defer db.Close(context.Background())
	reg := registry.New(db)

	var strategies []access.Strategy
	if service.JwtSecret != "" || service.JwtKeysURL != "" {
		strategies = append(strategies, access.NewJwtStrategy(&access.JwtStrategyBuilder{
			Secret:               []byte(service.JwtSecret),
			PublicKeyDownloadURL: service.JwtKeysURL,
			Registry:             reg,
			Issuer:               service.JwtIssuer,
		}))
	}
	strategies = append(strategies, &access.TokenStrategy{
		Lookup: tokenLookup(reg),
	})

	validator := schema.NewValidator()
	validator.MustAdd(personSchemaJSON)

	var notifier events.Notifier
	if service.KafkaBrokers != "" {
		kafkaNotifier := events.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	router := mux.NewRouter()
	rest.New(&rest.Builder{
		Config:     configurationJSON,
		Store:      docstore.NewMongoStore(db),
		Router:     router,
		Notifier:   notifier,
		Strategies: strategies,
		Validator:  validator,
	})

	chain := &access.Chain{Strategies: strategies}
	chain.Middleware(router)
	access.HandleAuthorizationRoute(router)

	rlog.Infoln("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, router)
}

// tokenLookup retrieves stored token records from the registry. Records are
// written there by whoever issues tokens, see access.GenerateToken.
func tokenLookup(reg *registry.Registry) func(tokenID uuid.UUID) (*access.TokenRecord, error) {
	tokens := reg.Accessor("_token_")
	return func(tokenID uuid.UUID) (*access.TokenRecord, error) {
		var record access.TokenRecord
		timestamp, err := tokens.Read(tokenID.String(), &record)
		if err != nil {
			return nil, err
		}
		if timestamp.IsZero() {
			return nil, nil
		}
		return &record, nil
	}
}
