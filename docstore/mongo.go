package docstore

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores documents in a single collection, using the id as _id.
type Mongo struct {
	Schema     *Schema
	client     *mongo.Client
	collection *mongo.Collection
}

// OpenMongo connects to a MongoDB server.
func OpenMongo(ctx context.Context, uri, database, collection string, schema *Schema) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	log.WithFields(log.Fields{"db": database, "collection": collection}).Debug("connected to mongo")
	return &Mongo{
		Schema:     schema,
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Create(ctx context.Context, id string, doc Document) error {
	if err := m.Schema.Validate(doc, false); err != nil {
		return err
	}
	d := bson.M{}
	for k, v := range doc {
		d[k] = v
	}
	d["_id"] = id
	if _, err := m.collection.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", id, ErrExists)
		}
		return fmt.Errorf("mongo insert: %w", err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, id string) (Document, error) {
	var d bson.M
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	return Document(normalizeMap(d)), nil
}

func (m *Mongo) Find(ctx context.Context, query map[string]any) ([]Document, error) {
	filter := bson.M{}
	for k, v := range query {
		filter[k] = v
	}
	cur, err := m.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	var ds []bson.M
	if err := cur.All(ctx, &ds); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	result := make([]Document, 0, len(ds))
	for _, d := range ds {
		result = append(result, Document(normalizeMap(d)))
	}
	return result, nil
}

func (m *Mongo) Update(ctx context.Context, id string, fields map[string]any) error {
	if err := m.Schema.Validate(fields, true); err != nil {
		return err
	}
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	res, err := m.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mongo update: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, id string) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (m *Mongo) List(ctx context.Context) ([]Document, error) {
	return m.Find(ctx, nil)
}

// normalizeMap turns driver specific containers into plain maps and slices.
func normalizeMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = normalizeValue(v)
	}
	return result
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.M:
		return normalizeMap(t)
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	case map[string]any:
		return normalizeMap(t)
	default:
		return v
	}
}

var _ Store = (*Mongo)(nil)
