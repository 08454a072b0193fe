// Package mongo provides the durable conversation thread store backed by
// MongoDB. Each thread is one document holding the ordered turns; appends are
// atomic $push updates so concurrent writers cannot interleave partially.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

const (
	defaultCollection = "chat_threads"
	defaultOpTimeout  = 5 * time.Second
)

type (
	// collection is the subset of the driver collection the store uses; the
	// seam keeps tests free of a running MongoDB.
	collection interface {
		UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
		FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult
	}

	// Options configures the store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	// Store implements the session's thread persistence on MongoDB.
	Store struct {
		coll    collection
		timeout time.Duration
	}

	threadDoc struct {
		ThreadID  string    `bson:"_id"`
		Turns     []turnDoc `bson:"turns"`
		UpdatedAt time.Time `bson:"updated_at"`
	}

	turnDoc struct {
		Role    string `bson:"role"`
		Content string `bson:"content"`
	}
)

// New returns a Store backed by MongoDB.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{
		coll:    opts.Client.Database(opts.Database).Collection(coll),
		timeout: timeout,
	}, nil
}

// Load returns the ordered turns of a thread. A missing thread is an empty
// history, not an error.
func (s *Store) Load(ctx context.Context, threadID string) ([]model.Message, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc threadDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": threadID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	msgs := make([]model.Message, len(doc.Turns))
	for i, t := range doc.Turns {
		msgs[i] = model.Message{Role: t.Role, Content: t.Content}
	}
	return msgs, nil
}

// Append adds turns to the end of a thread, creating it when absent.
func (s *Store) Append(ctx context.Context, threadID string, msgs ...model.Message) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	turns := make([]turnDoc, len(msgs))
	for i, m := range msgs {
		turns[i] = turnDoc{Role: m.Role, Content: m.Content}
	}
	update := bson.M{
		"$push": bson.M{"turns": bson.M{"$each": turns}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": threadID}, update,
		options.UpdateOne().SetUpsert(true))
	return err
}
