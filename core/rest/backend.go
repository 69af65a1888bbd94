package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/access"
	"github.com/relabs-tech/docrest/core/events"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/schema"
)

// Backend is the generic rest backend. It compiles a declarative resource
// configuration into routes on a mux router, served from a document store.
type Backend struct {
	config    Configuration
	store     Store
	router    *mux.Router
	notifier  events.Notifier
	validator *schema.Validator
	resources map[string]*Resource
	chains    map[string]*access.Chain
	// the chain with all strategies, used for resources without their own
	// authentication list
	defaultChain *access.Chain
	resolver     Resolver
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// Store is the document store to serve from. This is mandatory.
	Store Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives change notifications for successful writes. This is
	// optional, the default swallows them.
	Notifier events.Notifier
	// Strategies are the available authentication strategies, in chain
	// order. A resource can restrict itself to a subset by strategy name.
	Strategies []access.Strategy
	// AbortOnError makes the authentication chain reject a request on the
	// first failing strategy instead of trying the remaining ones.
	AbortOnError bool
	// Validator validates write payloads of resources which declare a
	// schema_id. Mandatory when any resource does.
	Validator *schema.Validator
}

// New realizes the actual backend. It compiles all resource descriptions
// and adds the routes to the router. Like all startup configuration errors,
// an invalid description is a panic, never a request-time error.
func New(bb *Builder) *Backend {
	var config Configuration
	if err := json.Unmarshal([]byte(bb.Config), &config); err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	if bb.Store == nil {
		panic("store is missing")
	}
	if bb.Router == nil {
		panic("router is missing")
	}

	b := &Backend{
		config:    config,
		store:     bb.Store,
		router:    bb.Router,
		notifier:  bb.Notifier,
		validator: bb.Validator,
		resources: make(map[string]*Resource),
		chains:    make(map[string]*access.Chain),
	}
	if b.notifier == nil {
		b.notifier = events.NullNotifier{}
	}
	b.resolver = &storeResolver{store: bb.Store}

	byName := map[string]access.Strategy{}
	for _, strategy := range bb.Strategies {
		byName[strategy.Name()] = strategy
	}
	b.defaultChain = &access.Chain{Strategies: bb.Strategies, AbortOnError: bb.AbortOnError}

	for _, cfg := range config.Collections {
		if _, ok := b.resources[cfg.Resource]; ok {
			panic(fmt.Errorf("duplicate resource %q", cfg.Resource))
		}
		rc, err := newResource(cfg)
		if err != nil {
			panic(err)
		}
		b.resources[cfg.Resource] = rc
	}
	for _, rc := range b.resources {
		if err := rc.resolve(b.resources); err != nil {
			panic(err)
		}
		if rc.SchemaID != "" {
			if b.validator == nil || !b.validator.HasSchema(rc.SchemaID) {
				panic(fmt.Errorf("resource %s declares schema %q, but no such schema is registered", rc.Name, rc.SchemaID))
			}
		}
		if len(rc.Authentication) > 0 {
			chain := &access.Chain{AbortOnError: bb.AbortOnError}
			for _, name := range rc.Authentication {
				strategy, ok := byName[name]
				if !ok {
					panic(fmt.Errorf("resource %s requires unknown authentication strategy %q", rc.Name, name))
				}
				chain.Strategies = append(chain.Strategies, strategy)
			}
			b.chains[rc.Name] = chain
		}
	}

	b.handleCompression()
	logger.AddRequestID(b.router)
	b.handleRoutes()
	return b
}

// Resource returns the compiled resource with the given name, or nil.
func (b *Backend) Resource(name string) *Resource {
	return b.resources[name]
}

// storeResolver resolves related references through the backend's store.
type storeResolver struct {
	store Store
}

func (s *storeResolver) ResolveReference(ctx context.Context, target *Resource, storageField string, value interface{}) (Document, error) {
	return s.store.FindOneBy(ctx, target.Collection, storageField, value)
}

func (b *Backend) handleCompression() {
	compressionMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.CompressHandler(h).ServeHTTP(w, r)
		})
	}
	b.router.Use(compressionMiddleware)
}

// handleRoutes adds all necessary handlers for the configured resources
func (b *Backend) handleRoutes() {
	rlog := logger.Default()
	rlog.Debugln("backend: handle routes")

	for _, cfg := range b.config.Collections {
		rc := b.resources[cfg.Resource]
		if rc.Virtual {
			continue
		}
		b.handleResourceRoutes(rc)
	}
}

func (b *Backend) handleResourceRoutes(rc *Resource) {
	listRoute := "/" + core.Plural(rc.Name)
	itemRoute := listRoute + "/{" + rc.Name + "_id}"

	rlog := logger.Default()
	rlog.Debugln("  handle route:", listRoute, "GET, POST")
	rlog.Debugln("  handle route:", itemRoute, "GET, PUT, DELETE")

	b.router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.listWithAuth(rc, w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	b.router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.createWithAuth(rc, w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	b.router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.readWithAuth(rc, w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	b.router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.updateWithAuth(rc, w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	b.router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.deleteWithAuth(rc, w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// authorize runs the resource's authentication chain and evaluates its
// permits. Denial is uniform: the client learns nothing beyond "not
// authorized".
func (b *Backend) authorize(w http.ResponseWriter, r *http.Request, rc *Resource, operation core.Operation) (*http.Request, bool) {
	chain, ok := b.chains[rc.Name]
	if !ok {
		chain = b.defaultChain
	}
	req, auth, err := chain.Authenticate(r)
	if err != nil {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return r, false
	}
	if len(rc.Permits) == 0 {
		// a resource without permits is public
		return req, true
	}
	if auth.IsAuthorized(operation, rc.Permits) {
		return req, true
	}
	http.Error(w, "not authorized", http.StatusUnauthorized)
	return req, false
}

func (b *Backend) listWithAuth(rc *Resource, w http.ResponseWriter, r *http.Request) {
	r, ok := b.authorize(w, r, rc, core.OperationList)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())

	plan, err := rc.BuildQueryPlan(r.URL.Query())
	if err != nil {
		if isRequestError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rlog.WithError(err).Errorf("Error 4718: cannot build query plan for %s", rc.Name)
		http.Error(w, "Error 4718", http.StatusInternalServerError)
		return
	}

	docs, totalCount, err := b.store.Find(r.Context(), rc.Collection, plan)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4711: cannot query collection %s", rc.Collection)
		http.Error(w, "Error 4711", http.StatusInternalServerError)
		return
	}

	response, err := rc.SerializeMany(r.Context(), docs, plan.Fields, b.resolver)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4712: cannot serialize %s", rc.Name)
		http.Error(w, "Error 4712", http.StatusInternalServerError)
		return
	}

	jsonData, err := json.MarshalWithOption(response, json.DisableHTMLEscape())
	if err != nil {
		rlog.WithError(err).Errorln("Error 4713: cannot marshal response")
		http.Error(w, "Error 4713", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Pagination-Limit", strconv.FormatInt(plan.Limit, 10))
	w.Header().Set("Pagination-Total-Count", strconv.FormatInt(totalCount, 10))
	if plan.Limit > 0 {
		w.Header().Set("Pagination-Page-Count", strconv.FormatInt((totalCount+plan.Limit-1)/plan.Limit, 10))
		w.Header().Set("Pagination-Current-Page", strconv.FormatInt(plan.Skip/plan.Limit+1, 10))
	}

	etag := bytesPlusTotalCountToEtag(jsonData, totalCount)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

func (b *Backend) readWithAuth(rc *Resource, w http.ResponseWriter, r *http.Request) {
	r, ok := b.authorize(w, r, rc, core.OperationRead)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())
	id := mux.Vars(r)[rc.Name+"_id"]

	plan, err := rc.BuildQueryPlan(r.URL.Query())
	if err != nil {
		if isRequestError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rlog.WithError(err).Errorf("Error 4718: cannot build query plan for %s", rc.Name)
		http.Error(w, "Error 4718", http.StatusInternalServerError)
		return
	}

	doc, err := b.store.FindOne(r.Context(), rc.Collection, id)
	if errors.Is(err, ErrDocumentNotFound) {
		http.Error(w, fmt.Sprintf("no such %s: %s", rc.Name, id), http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4714: cannot read %s %s", rc.Name, id)
		http.Error(w, "Error 4714", http.StatusInternalServerError)
		return
	}

	response, err := rc.Serialize(r.Context(), doc, plan.Fields, b.resolver)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4712: cannot serialize %s", rc.Name)
		http.Error(w, "Error 4712", http.StatusInternalServerError)
		return
	}

	jsonData, err := json.MarshalWithOption(response, json.DisableHTMLEscape())
	if err != nil {
		rlog.WithError(err).Errorln("Error 4713: cannot marshal response")
		http.Error(w, "Error 4713", http.StatusInternalServerError)
		return
	}

	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

func (b *Backend) createWithAuth(rc *Resource, w http.ResponseWriter, r *http.Request) {
	r, ok := b.authorize(w, r, rc, core.OperationCreate)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())

	storageDoc, ok := b.decodeWritePayload(rc, w, r)
	if !ok {
		return
	}

	if _, ok := storageDoc["_id"]; !ok {
		storageDoc["_id"] = uuid.New().String()
	}

	id, err := b.store.Insert(r.Context(), rc.Collection, storageDoc)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4715: cannot insert into %s", rc.Collection)
		http.Error(w, "Error 4715", http.StatusInternalServerError)
		return
	}

	payload := b.respondWithDocument(rc, w, r, storageDoc, http.StatusCreated)
	b.notify(r.Context(), rc, core.OperationCreate, id, payload)
}

func (b *Backend) updateWithAuth(rc *Resource, w http.ResponseWriter, r *http.Request) {
	r, ok := b.authorize(w, r, rc, core.OperationUpdate)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())
	id := mux.Vars(r)[rc.Name+"_id"]

	storageDoc, ok := b.decodeWritePayload(rc, w, r)
	if !ok {
		return
	}
	storageDoc["_id"] = id

	updated, err := b.store.Replace(r.Context(), rc.Collection, id, storageDoc)
	if errors.Is(err, ErrDocumentNotFound) {
		http.Error(w, fmt.Sprintf("no such %s: %s", rc.Name, id), http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4716: cannot update %s %s", rc.Name, id)
		http.Error(w, "Error 4716", http.StatusInternalServerError)
		return
	}

	payload := b.respondWithDocument(rc, w, r, updated, http.StatusOK)
	b.notify(r.Context(), rc, core.OperationUpdate, id, payload)
}

func (b *Backend) deleteWithAuth(rc *Resource, w http.ResponseWriter, r *http.Request) {
	r, ok := b.authorize(w, r, rc, core.OperationDelete)
	if !ok {
		return
	}
	rlog := logger.FromContext(r.Context())
	id := mux.Vars(r)[rc.Name+"_id"]

	_, err := b.store.Delete(r.Context(), rc.Collection, id)
	if errors.Is(err, ErrDocumentNotFound) {
		http.Error(w, fmt.Sprintf("no such %s: %s", rc.Name, id), http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 4717: cannot delete %s %s", rc.Name, id)
		http.Error(w, "Error 4717", http.StatusInternalServerError)
		return
	}

	b.notify(r.Context(), rc, core.OperationDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// decodeWritePayload reads the request body, validates it against the
// resource's schema when one is declared, and translates the wire names to
// storage names. The translation runs on the complete document in one pass
// over a fresh map, so pairs of renamed fields can swap names without
// clobbering each other.
func (b *Backend) decodeWritePayload(rc *Resource, w http.ResponseWriter, r *http.Request) (Document, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return nil, false
	}

	var wireDoc Document
	if err := json.Unmarshal(body, &wireDoc); err != nil {
		http.Error(w, "invalid json data", http.StatusBadRequest)
		return nil, false
	}

	if rc.SchemaID != "" {
		if err := b.validator.ValidateString(string(body), rc.SchemaID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, false
		}
	}

	return rc.RenameToStorage(wireDoc), true
}

// respondWithDocument writes the serialized document and returns the wire
// payload, which is also what change notifications carry.
func (b *Backend) respondWithDocument(rc *Resource, w http.ResponseWriter, r *http.Request, doc Document, status int) []byte {
	rlog := logger.FromContext(r.Context())

	response, err := rc.Serialize(r.Context(), doc, nil, b.resolver)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4712: cannot serialize %s", rc.Name)
		http.Error(w, "Error 4712", http.StatusInternalServerError)
		return nil
	}
	jsonData, err := json.MarshalWithOption(response, json.DisableHTMLEscape())
	if err != nil {
		rlog.WithError(err).Errorln("Error 4713: cannot marshal response")
		http.Error(w, "Error 4713", http.StatusInternalServerError)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
	return jsonData
}

func (b *Backend) notify(ctx context.Context, rc *Resource, operation core.Operation, id string, payload []byte) {
	notification := events.Notification{
		Resource:   rc.Name,
		Operation:  operation,
		ResourceID: id,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		RequestID:  logger.RequestIDFromContext(ctx),
	}
	if err := b.notifier.Notify(ctx, notification); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot deliver notification")
	}
}
