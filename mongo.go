package attrsession

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	// ErrInvalidAttributeName is returned for names MongoDB cannot use as a field path.
	ErrInvalidAttributeName = errors.New("invalid attribute name")

	// ErrMongoNotReady is returned by ConnectMongo when no connection attempt succeeded.
	ErrMongoNotReady = errors.New("failed to connect to mongo")

	_ AttributeStore = (*MongoStore)(nil)
	_ DomainAdmin    = (*MongoStore)(nil)
)

// MongoStore keeps one document per item with the attributes in an embedded
// map, so $set on attrs.<name> is a field-level upsert.
type MongoStore struct {
	items   *mongo.Collection
	domains *mongo.Collection
}

// MongoConfig holds configuration for the MongoDB store.
type MongoConfig struct {
	// Collection holding items. Defaults to "attributes"; domains go to "<Collection>_domains".
	Collection string
}

type mongoItem struct {
	ID     string            `bson:"_id"`
	Domain string            `bson:"domain"`
	Item   string            `bson:"item"`
	Attrs  map[string]string `bson:"attrs"`
}

// NewMongoStore prepares the collections of db and ensures the (domain, item) index.
func NewMongoStore(ctx context.Context, db *mongo.Database, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "attributes"
	}
	s := &MongoStore{
		items:   db.Collection(cfg.Collection),
		domains: db.Collection(cfg.Collection + "_domains"),
	}

	_, err := s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "domain", Value: 1}, {Key: "item", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo index: %w", err)
	}
	return s, nil
}

// ConnectMongo connects to url and pings the server, retrying attempts times.
func ConnectMongo(ctx context.Context, url string, attempts int, interval, timeout time.Duration) (*mongo.Client, error) {
	for range max(attempts, 1) {
		client, err := mongo.Connect(options.Client().ApplyURI(url).SetConnectTimeout(timeout))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err = client.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				return client, nil
			}
			_ = client.Disconnect(ctx)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrMongoNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrMongoNotReady
}

func mongoID(domain, item string) string {
	return strconv.Itoa(len(domain)) + ":" + domain + ":" + item
}

func validMongoName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "$") && !strings.Contains(name, ".")
}

// GetAttributes reads the item document. MongoDB primaries serve consistent reads.
func (s *MongoStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	opts := options.FindOne()
	if len(names) > 0 {
		projection := bson.D{}
		for _, n := range names {
			if !validMongoName(n) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidAttributeName, n)
			}
			projection = append(projection, bson.E{Key: "attrs." + n, Value: 1})
		}
		opts.SetProjection(projection)
	}

	var doc mongoItem
	err := s.items.FindOne(ctx, bson.D{{Key: "_id", Value: mongoID(domain, item)}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from mongo: %w", err)
	}
	return mapToAttributes(doc.Attrs, names), nil
}

func (s *MongoStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	set := bson.D{
		{Key: "domain", Value: domain},
		{Key: "item", Value: item},
	}
	for _, a := range attrs {
		if !validMongoName(a.Name) {
			return fmt.Errorf("%w: %q", ErrInvalidAttributeName, a.Name)
		}
		set = append(set, bson.E{Key: "attrs." + a.Name, Value: a.Value})
	}

	_, err := s.items.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: mongoID(domain, item)}},
		bson.D{{Key: "$set", Value: set}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save to mongo: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	if _, err := s.items.DeleteOne(ctx, bson.D{{Key: "_id", Value: mongoID(domain, item)}}); err != nil {
		return fmt.Errorf("failed to delete from mongo: %w", err)
	}
	return nil
}

// Select builds a filter document, one equality per attribute, and resumes
// after the last item name of the previous page.
func (s *MongoStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	limit := selectLimit(in.Limit)

	filter := bson.D{
		{Key: "domain", Value: in.Domain},
		{Key: "item", Value: bson.D{{Key: "$gt", Value: in.NextToken}}},
	}
	for _, f := range in.Filters {
		if !validMongoName(f.Name) {
			return SelectOutput{}, fmt.Errorf("%w: %q", ErrInvalidAttributeName, f.Name)
		}
		filter = append(filter, bson.E{Key: "attrs." + f.Name, Value: f.Value})
	}

	cur, err := s.items.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "item", Value: 1}}).SetLimit(int64(limit+1)))
	if err != nil {
		return SelectOutput{}, fmt.Errorf("failed to select from mongo: %w", err)
	}
	var docs []mongoItem
	if err := cur.All(ctx, &docs); err != nil {
		return SelectOutput{}, fmt.Errorf("failed to decode mongo items: %w", err)
	}

	var out SelectOutput
	if len(docs) > limit {
		docs = docs[:limit]
		out.NextToken = docs[len(docs)-1].Item
	}
	for _, d := range docs {
		out.Items = append(out.Items, Item{Name: d.Item, Attributes: mapToAttributes(d.Attrs, nil)})
	}
	return out, nil
}

func (s *MongoStore) CreateDomain(ctx context.Context, name string) error {
	_, err := s.domains.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: time.Now().UTC()}}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to create domain in mongo: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteDomain(ctx context.Context, name string) error {
	if _, err := s.items.DeleteMany(ctx, bson.D{{Key: "domain", Value: name}}); err != nil {
		return fmt.Errorf("failed to delete domain items from mongo: %w", err)
	}
	if _, err := s.domains.DeleteOne(ctx, bson.D{{Key: "_id", Value: name}}); err != nil {
		return fmt.Errorf("failed to delete domain from mongo: %w", err)
	}
	return nil
}

// Close disconnects the client the store's database belongs to.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.items.Database().Client().Disconnect(ctx)
}
