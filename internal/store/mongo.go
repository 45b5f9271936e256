package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/usergeteam/loader/internal/errs"
)

// coreKey is the single document identity in the config collection.
const coreKey = "core"

// MongoStore is the production Store backend: a "Loader" database
// with config/repos/removed/constraint collections.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore dials uri and returns a MongoStore bound to the
// "Loader" database. A connection failure is wrapped as
// errs.ErrStoreUnavailable, which is fatal at boot.
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", errs.ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", errs.ErrStoreUnavailable, err)
	}
	return &MongoStore{client: client, db: client.Database("Loader")}, nil
}

func (s *MongoStore) config() *mongo.Collection     { return s.db.Collection("config") }
func (s *MongoStore) repos() *mongo.Collection      { return s.db.Collection("repos") }
func (s *MongoStore) removed() *mongo.Collection    { return s.db.Collection("removed") }
func (s *MongoStore) constraint() *mongo.Collection { return s.db.Collection("constraint") }

type coreRecord struct {
	Key     string `bson:"key"`
	Branch  string `bson:"branch"`
	Version string `bson:"version"`
}

type repoRecord struct {
	ID       int    `bson:"id"`
	Priority int    `bson:"priority"`
	Branch   string `bson:"branch"`
	Version  string `bson:"version"`
	URL      string `bson:"url"`
}

type removedRecord struct {
	Name string `bson:"name"`
}

type constraintRecord struct {
	Type string `bson:"type"`
	Data string `bson:"data"`
}

// LoadAll populates the in-memory snapshots the pipeline's load_store
// stage needs, reading every collection in one pass.
func (s *MongoStore) LoadAll(ctx context.Context) (CoreDoc, []RepoDoc, []RemovedDoc, []ConstraintDoc, error) {
	var core CoreDoc

	var rec coreRecord
	err := s.config().FindOne(ctx, bson.M{"key": coreKey}).Decode(&rec)
	switch {
	case err == mongo.ErrNoDocuments:
		// No pin yet; zero-value CoreDoc.
	case err != nil:
		return core, nil, nil, nil, fmt.Errorf("%w: load core: %v", errs.ErrStoreUnavailable, err)
	default:
		core = CoreDoc{Branch: rec.Branch, Version: rec.Version}
	}

	repoDocs, err := loadAll[repoRecord](ctx, s.repos())
	if err != nil {
		return core, nil, nil, nil, fmt.Errorf("%w: load repos: %v", errs.ErrStoreUnavailable, err)
	}
	repos := make([]RepoDoc, len(repoDocs))
	for i, r := range repoDocs {
		repos[i] = RepoDoc{ID: r.ID, Priority: r.Priority, Branch: r.Branch, Version: r.Version, URL: r.URL}
	}

	removedDocs, err := loadAll[removedRecord](ctx, s.removed())
	if err != nil {
		return core, nil, nil, nil, fmt.Errorf("%w: load removed: %v", errs.ErrStoreUnavailable, err)
	}
	removed := make([]RemovedDoc, len(removedDocs))
	for i, r := range removedDocs {
		removed[i] = RemovedDoc{Name: r.Name}
	}

	constraintDocs, err := loadAll[constraintRecord](ctx, s.constraint())
	if err != nil {
		return core, nil, nil, nil, fmt.Errorf("%w: load constraints: %v", errs.ErrStoreUnavailable, err)
	}
	constraints := make([]ConstraintDoc, len(constraintDocs))
	for i, c := range constraintDocs {
		constraints[i] = ConstraintDoc{Type: c.Type, Data: c.Data}
	}

	return core, repos, removed, constraints, nil
}

func loadAll[T any](ctx context.Context, col *mongo.Collection) ([]T, error) {
	cur, err := col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertCore writes the core pin document, keyed "core".
func (s *MongoStore) UpsertCore(ctx context.Context, doc CoreDoc) error {
	_, err := s.config().UpdateOne(ctx,
		bson.M{"key": coreKey},
		bson.M{"$set": coreRecord{Key: coreKey, Branch: doc.Branch, Version: doc.Version}},
		options.Update().SetUpsert(true),
	)
	return err
}

// InsertRepo adds a plugin-repo document.
func (s *MongoStore) InsertRepo(ctx context.Context, doc RepoDoc) error {
	_, err := s.repos().InsertOne(ctx, repoRecord{
		ID: doc.ID, Priority: doc.Priority, Branch: doc.Branch, Version: doc.Version, URL: doc.URL,
	})
	return err
}

// DeleteRepoByURL removes a plugin-repo document by its origin URL.
func (s *MongoStore) DeleteRepoByURL(ctx context.Context, url string) error {
	_, err := s.repos().DeleteOne(ctx, bson.M{"url": url})
	return err
}

// InsertManyRemoved records names as permanently removed plugins.
func (s *MongoStore) InsertManyRemoved(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	docs := make([]interface{}, len(names))
	for i, n := range names {
		docs[i] = removedRecord{Name: n}
	}
	_, err := s.removed().InsertMany(ctx, docs)
	return err
}

// DeleteRemovedByNames un-removes the given plugin names.
func (s *MongoStore) DeleteRemovedByNames(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.removed().DeleteMany(ctx, bson.M{"name": bson.M{"$in": names}})
	return err
}

// DropRemoved clears the entire removed-plugin set.
func (s *MongoStore) DropRemoved(ctx context.Context) error {
	_, err := s.removed().DeleteMany(ctx, bson.M{})
	return err
}

// InsertConstraint adds one raw constraint rule under its kind.
func (s *MongoStore) InsertConstraint(ctx context.Context, doc ConstraintDoc) error {
	_, err := s.constraint().InsertOne(ctx, constraintRecord{Type: doc.Type, Data: doc.Data})
	return err
}

// DeleteConstraint removes one raw constraint rule.
func (s *MongoStore) DeleteConstraint(ctx context.Context, kind, data string) error {
	_, err := s.constraint().DeleteOne(ctx, bson.M{"type": kind, "data": data})
	return err
}

// DropConstraints clears every rule of one kind, or all kinds if empty.
func (s *MongoStore) DropConstraints(ctx context.Context, kind string) error {
	filter := bson.M{}
	if kind != "" {
		filter["type"] = kind
	}
	_, err := s.constraint().DeleteMany(ctx, filter)
	return err
}

// Close disconnects the Mongo client. Errors here are logged and
// swallowed by callers during teardown.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
