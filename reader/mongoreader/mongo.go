package mongoreader

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Dial returns a Connector opening collection of database at uri.
func Dial(uri, database, collection string) Connector {
	return func(ctx context.Context) (Collection, func(context.Context) error, error) {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}

		coll := client.Database(database).Collection(collection)

		return mongoCollection{coll}, client.Disconnect, nil
	}
}

type mongoCollection struct {
	c *mongo.Collection
}

func (m mongoCollection) Find(ctx context.Context, filter bson.M) ([]bson.M, error) {
	cursor, err := m.c.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	var docs []bson.M

	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return docs, nil
}

func (m mongoCollection) InsertOne(ctx context.Context, document bson.M) (any, error) {
	res, err := m.c.InsertOne(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	return res.InsertedID, nil
}

func (m mongoCollection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := m.c.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}

	return res.ModifiedCount, nil
}

func (m mongoCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := m.c.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return res.DeletedCount, nil
}
