package application_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

func TestAddOrIncrementMergesLines(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.carts.AddOrIncrement(ctx, student, chaiID, 2)
	require.NoError(t, err)
	second, err := e.carts.AddOrIncrement(ctx, student, chaiID, 3)
	require.NoError(t, err)

	assert.Equal(t, first.LineID, second.LineID)
	assert.Equal(t, 5, second.Quantity)
	assert.Equal(t, money.Minor(1500), second.LineTotal)

	snap, err := e.carts.Snapshot(ctx, student)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, money.Minor(1500), snap.Total)
}

func TestAddOrIncrementValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.carts.AddOrIncrement(ctx, student, chaiID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.carts.AddOrIncrement(ctx, student, chaiID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.carts.AddOrIncrement(ctx, student, 404, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	e.catalog.SetActive(chaiID, false)
	_, err = e.carts.AddOrIncrement(ctx, student, chaiID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap, err := e.carts.Snapshot(ctx, student)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
}

func TestConcurrentAddOrIncrement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	want := 0
	for i := range workers {
		qty := i%3 + 1
		want += qty
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.carts.AddOrIncrement(ctx, student, shawarmaID, qty)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := e.carts.Snapshot(ctx, student)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, want, snap.Lines[0].Quantity)
}

func TestSetQuantityAndRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	line, err := e.carts.AddOrIncrement(ctx, student, chaiID, 1)
	require.NoError(t, err)
	e.add(t, student, shawarmaID, 1)

	updated, err := e.carts.SetQuantity(ctx, student, line.LineID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
	assert.Equal(t, money.Minor(1200), updated.LineTotal)

	_, err = e.carts.SetQuantity(ctx, student, line.LineID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.carts.SetQuantity(ctx, student, 9999, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap, err := e.carts.RemoveLine(ctx, student, line.LineID)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, shawarmaID, snap.Lines[0].ItemID)
	assert.Equal(t, money.Minor(3500), snap.Total)

	_, err = e.carts.RemoveLine(ctx, student, line.LineID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCartLinesAreScopedToOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	line, err := e.carts.AddOrIncrement(ctx, student, chaiID, 1)
	require.NoError(t, err)

	_, err = e.carts.SetQuantity(ctx, student+1, line.LineID, 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.carts.RemoveLine(ctx, student+1, line.LineID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClearCart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.add(t, student, chaiID, 1)
	e.add(t, student, shawarmaID, 1)

	snap, err := e.carts.Clear(ctx, student)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())

	snap, err = e.carts.Snapshot(ctx, student)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.True(t, snap.Total.IsZero())
}

func TestQuantityIsCapped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.carts.AddOrIncrement(ctx, student, chaiID, domain.MaxLineQuantity+1)
	assert.ErrorIs(t, err, domain.ErrQuantityTooLarge)
	_, err = e.carts.AddOrIncrement(ctx, student, chaiID, 1+1<<62)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	line, err := e.carts.AddOrIncrement(ctx, student, chaiID, domain.MaxLineQuantity-1)
	require.NoError(t, err)
	_, err = e.carts.AddOrIncrement(ctx, student, chaiID, 2)
	assert.ErrorIs(t, err, domain.ErrQuantityTooLarge)
	_, err = e.carts.SetQuantity(ctx, student, line.LineID, domain.MaxLineQuantity+1)
	assert.ErrorIs(t, err, domain.ErrQuantityTooLarge)

	snap, err := e.carts.Snapshot(ctx, student)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, domain.MaxLineQuantity-1, snap.Lines[0].Quantity, "rejected increments leave the line unchanged")
	assert.Equal(t, money.Minor(300*(domain.MaxLineQuantity-1)), snap.Total)
}

func TestHugeQuantityCannotCheckoutCheaply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, student, 1000)

	_, err := e.carts.AddOrIncrement(ctx, student, chaiID, 1+1<<62)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.coord.Checkout(ctx, student, pickup)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, money.Minor(1000), e.balance(t, student))
}

func TestFailedSetQuantityLeavesCartUnchanged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	line, err := e.carts.AddOrIncrement(ctx, student, chaiID, 1)
	require.NoError(t, err)

	e.catalog.SetActive(chaiID, false)
	_, err = e.carts.SetQuantity(ctx, student, line.LineID, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)

	e.catalog.SetActive(chaiID, true)
	snap, err := e.carts.Snapshot(ctx, student)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 1, snap.Lines[0].Quantity)
	assert.Equal(t, money.Minor(300), snap.Total)
}
