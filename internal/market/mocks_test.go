package market

import (
	"context"
	"math/big"

	"github.com/stretchr/testify/mock"
)

type mockCollectionReader struct {
	mock.Mock
}

func newMockCollectionReader(t interface {
	mock.TestingT
	Cleanup(func())
}) *mockCollectionReader {
	m := &mockCollectionReader{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockCollectionReader) OwnerOf(ctx context.Context, collection string, tokenID *big.Int) (string, error) {
	args := m.Called(ctx, collection, tokenID)
	return args.String(0), args.Error(1)
}

func (m *mockCollectionReader) TokenURI(ctx context.Context, collection string, tokenID *big.Int) (string, error) {
	args := m.Called(ctx, collection, tokenID)
	return args.String(0), args.Error(1)
}

func (m *mockCollectionReader) BalanceOf(ctx context.Context, collection string, owner string) (*big.Int, error) {
	args := m.Called(ctx, collection, owner)
	var b *big.Int
	if v := args.Get(0); v != nil {
		b = v.(*big.Int)
	}
	return b, args.Error(1)
}

func (m *mockCollectionReader) TokenOfOwnerByIndex(ctx context.Context, collection string, owner string, index *big.Int) (*big.Int, error) {
	args := m.Called(ctx, collection, owner, index)
	var b *big.Int
	if v := args.Get(0); v != nil {
		b = v.(*big.Int)
	}
	return b, args.Error(1)
}

func (m *mockCollectionReader) Name(ctx context.Context, collection string) (string, error) {
	args := m.Called(ctx, collection)
	return args.String(0), args.Error(1)
}

func (m *mockCollectionReader) Owner(ctx context.Context, collection string) (string, error) {
	args := m.Called(ctx, collection)
	return args.String(0), args.Error(1)
}

type mockEventSource struct {
	mock.Mock
}

func newMockEventSource(t interface {
	mock.TestingT
	Cleanup(func())
}) *mockEventSource {
	m := &mockEventSource{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockEventSource) Fetch(ctx context.Context, filter EventFilter) (EventBatch, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(EventBatch), args.Error(1)
}

// bigEq matches a *big.Int argument by value.
func bigEq(n int64) interface{} {
	return mock.MatchedBy(func(b *big.Int) bool {
		return b != nil && b.Cmp(big.NewInt(n)) == 0
	})
}
