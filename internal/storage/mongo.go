// Package storage implements the Compressed Cache's optional secondary
// sink: a MongoDB mirror of every New/Updated JobRecord, for deployments
// that want the catalog queryable outside the primary compressed blob.
// Grounded on the teacher's MongoStorage (internal/storage/database.go),
// generalized from writing an arbitrary types.Item field map into writing
// jobrecord.JobRecord documents keyed by their fingerprint, with upsert
// semantics so Updated records overwrite rather than duplicate.
package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

// MongoMirror writes JobRecords to a MongoDB collection, upserting on
// fingerprint so repeat Put calls for the same record overwrite in place.
type MongoMirror struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoMirror connects to uri and pings it before returning, so
// configuration errors surface at startup rather than on the first write.
func NewMongoMirror(uri, database, collection string, logger *slog.Logger) (*MongoMirror, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoMirror{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_mirror"),
	}, nil
}

type mongoDoc struct {
	Fingerprint string `bson:"_id"`
	URL         string `bson:"url"`
	Title       string `bson:"title"`
	Company     string `bson:"company"`
	Location    string `bson:"location"`
	Modality    string `bson:"modality"`
	Area        string `bson:"area"`
	Seniority   string `bson:"seniority"`
	SalaryText  string `bson:"salaryText"`
	SourceQuery string `bson:"sourceQuery"`
	ObservedAt  time.Time `bson:"observedAt"`
}

// Mirror upserts one JobRecord by fingerprint. It is called alongside
// every Cache.Put so the mirror stays consistent with the primary blob.
func (m *MongoMirror) Mirror(r *jobrecord.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := mongoDoc{
		Fingerprint: hex.EncodeToString(r.Fingerprint[:]),
		URL:         r.URL,
		Title:       r.Title,
		Company:     r.Company,
		Location:    r.Location,
		Modality:    string(r.Modality),
		Area:        r.Area,
		Seniority:   string(r.Seniority),
		SalaryText:  r.SalaryText,
		SourceQuery: r.SourceQuery,
		ObservedAt:  time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.Fingerprint}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert: %w", err)
	}
	m.count++
	return nil
}

// Close disconnects the client, logging the total number of records
// mirrored over the mirror's lifetime.
func (m *MongoMirror) Close() error {
	m.logger.Info("mongo mirror closing", "total_mirrored", m.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
