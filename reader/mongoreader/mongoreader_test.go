package mongoreader_test

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"
	"github.com/purposeinplay/go-artifact/reader/mongoreader"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeCollection struct {
	docs     []bson.M
	calls    []string
	released int
	fail     error
}

func (f *fakeCollection) connect(context.Context) (mongoreader.Collection, func(context.Context) error, error) {
	return f, func(context.Context) error {
		f.released++
		return nil
	}, nil
}

func (f *fakeCollection) Find(_ context.Context, filter bson.M) ([]bson.M, error) {
	f.calls = append(f.calls, "find")

	if f.fail != nil {
		return nil, f.fail
	}

	var out []bson.M

	for _, d := range f.docs {
		if d["sensor"] == filter["sensor"] {
			out = append(out, d)
		}
	}

	return out, nil
}

func (f *fakeCollection) InsertOne(_ context.Context, document bson.M) (any, error) {
	f.calls = append(f.calls, "insert")
	f.docs = append(f.docs, document)

	return len(f.docs), nil
}

func (f *fakeCollection) UpdateMany(_ context.Context, filter, update bson.M) (int64, error) {
	f.calls = append(f.calls, "update")

	var n int64

	set, _ := update["$set"].(bson.M)

	for _, d := range f.docs {
		if d["sensor"] != filter["sensor"] {
			continue
		}

		for k, v := range set {
			d[k] = v
		}

		n++
	}

	return n, nil
}

func (f *fakeCollection) DeleteMany(_ context.Context, filter bson.M) (int64, error) {
	f.calls = append(f.calls, "delete")

	kept := f.docs[:0]

	var n int64

	for _, d := range f.docs {
		if d["sensor"] == filter["sensor"] {
			n++
			continue
		}

		kept = append(kept, d)
	}

	f.docs = kept

	return n, nil
}

type publisher struct {
	payloads []string
}

func (p *publisher) Publish(_ context.Context, payload string) error {
	p.payloads = append(p.payloads, payload)

	return nil
}

func TestReader_Operations(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		operation mongoreader.Operation
		query     bson.M
		expected  string
	}{
		"Find": {
			operation: mongoreader.Find,
			query:     bson.M{"sensor": "a"},
			expected:  `[{"sensor":"a","value":1}]`,
		},
		"Insert": {
			operation: mongoreader.Insert,
			query:     bson.M{"sensor": "c", "value": 3},
			expected:  `3`,
		},
		"Update": {
			operation: mongoreader.Update,
			query: bson.M{
				"filter": bson.M{"sensor": "b"},
				"update": bson.M{"$set": bson.M{"value": 20}},
			},
			expected: `1`,
		},
		"Delete": {
			operation: mongoreader.Delete,
			query:     bson.M{"sensor": "a"},
			expected:  `1`,
		},
	}

	for name, test := range tests {
		test := test

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			i := is.New(t)

			coll := &fakeCollection{docs: []bson.M{
				{"sensor": "a", "value": 1},
				{"sensor": "b", "value": 2},
			}}
			pub := &publisher{}

			loop, err := mongoreader.New(mongoreader.Config{
				Connect:   coll.connect,
				Operation: test.operation,
				Query:     test.query,
			})
			i.NoErr(err)

			i.NoErr(loop.Drive(context.Background(), pub))
			i.Equal(pub.payloads, []string{test.expected})
			i.Equal(coll.calls, []string{string(test.operation)})
			i.Equal(coll.released, 1)
		})
	}
}

func TestNew_UnsupportedOperation(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	coll := &fakeCollection{}

	_, err := mongoreader.New(mongoreader.Config{
		Connect:   coll.connect,
		Operation: "aggregate",
	})
	i.True(errors.Is(err, mongoreader.ErrUnsupportedOperation))
}

func TestReader_FailureReleasesConnection(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	coll := &fakeCollection{fail: errors.New("server selection timeout")}
	pub := &publisher{}

	loop, err := mongoreader.New(mongoreader.Config{
		Connect:   coll.connect,
		Operation: mongoreader.Find,
	})
	i.NoErr(err)

	i.NoErr(loop.Drive(context.Background(), pub))
	i.Equal(len(pub.payloads), 0)
	i.Equal(coll.released, 1)
}

func TestSource_UpdateQuery(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	coll := &fakeCollection{docs: []bson.M{{"sensor": "b", "value": 2}}}

	src, err := mongoreader.NewSource(mongoreader.Config{
		Connect:   coll.connect,
		Operation: mongoreader.Find,
		Query:     bson.M{"sensor": "a"},
		UpdateQuery: func(context.Context, bson.M) (bson.M, error) {
			return bson.M{"sensor": "b"}, nil
		},
	})
	i.NoErr(err)

	i.NoErr(src.UpdateSource(context.Background()))

	got, err := src.Fetch(context.Background())
	i.NoErr(err)
	i.Equal(got, []bson.M{{"sensor": "b", "value": 2}})
}
