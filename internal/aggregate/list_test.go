package aggregate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

func rawV1(i int) domain.RawVaultV1 {
	return domain.RawVaultV1{
		Address: fmt.Sprintf("0x%040d", i),
		Name:    fmt.Sprintf("Vault %d", i),
		State:   &domain.RawVaultV1State{TotalAssets: "1000", TotalAssetsUsd: "1000"},
	}
}

func TestAggregateAllOrdersV2BeforeV1(t *testing.T) {
	pricer := &fakePricer{
		v2List: []domain.RawVaultV2{
			{Address: "0xAA", Name: "New A"},
			{Address: "0xBB", Name: "New B"},
		},
		v1List: []domain.RawVaultV1{rawV1(1)},
	}
	agg := newAggregator(&fakeReader{}, pricer)

	snaps, err := agg.AggregateAll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, domain.SchemaV2, snaps[0].Version)
	assert.Equal(t, "New A", snaps[0].Name)
	assert.Equal(t, domain.SchemaV2, snaps[1].Version)
	assert.Equal(t, domain.SchemaV1, snaps[2].Version)
}

func TestAggregateAllSurvivesOneSourceDown(t *testing.T) {
	pricer := &fakePricer{
		v2ListErr: errors.New("listing down"),
		v1List: []domain.RawVaultV1{
			rawV1(1), rawV1(2), rawV1(3), rawV1(4), rawV1(5),
		},
	}
	agg := newAggregator(&fakeReader{}, pricer)

	snaps, err := agg.AggregateAll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 5)
	for _, s := range snaps {
		assert.Equal(t, domain.SchemaV1, s.Version)
	}
}

func TestAggregateAllBothSourcesDown(t *testing.T) {
	pricer := &fakePricer{
		v2ListErr: errors.New("listing down"),
		v1ListErr: errors.New("listing down"),
	}
	agg := newAggregator(&fakeReader{}, pricer)

	snaps, err := agg.AggregateAll(context.Background(), 1)
	require.NoError(t, err, "a fully degraded listing is empty, never an error")
	assert.Empty(t, snaps)
	assert.NotNil(t, snaps)
}

func TestAggregateAllUnknownChain(t *testing.T) {
	agg := newAggregator(&fakeReader{}, &fakePricer{})
	_, err := agg.AggregateAll(context.Background(), 5)
	requireFailure(t, err, domain.FailureInvalidInput)
}

func TestAggregateAllKeepsMigrationDuplicates(t *testing.T) {
	// A vault mid-migration legitimately shows up in both listings.
	addr := "0x3333333333333333333333333333333333333333"
	pricer := &fakePricer{
		v2List: []domain.RawVaultV2{{Address: addr, Name: "Migrating"}},
		v1List: []domain.RawVaultV1{{Address: addr, Name: "Migrating"}},
	}
	agg := newAggregator(&fakeReader{}, pricer)

	snaps, err := agg.AggregateAll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, snaps[0].Address, snaps[1].Address)
	assert.NotEqual(t, snaps[0].Version, snaps[1].Version)
}
