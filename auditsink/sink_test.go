package auditsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dotrongnhan/saplgo/decision"
	"github.com/dotrongnhan/saplgo/value"
	"github.com/dotrongnhan/saplgo/voter"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "host=localhost user=postgres password=postgres dbname=saplgo_test port=5432 sslmode=disable TimeZone=UTC"
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("skipping auditsink test - postgres not available: %v", err)
	}
	return db
}

func TestSinkRecordsVoteAndListsRecent(t *testing.T) {
	db := openTestDB(t)
	sink, err := NewSink(db)
	require.NoError(t, err)

	sub := decision.Subscription{
		PdpID:    "app1",
		Subject:  value.Text("alice"),
		Action:   value.Text("read"),
		Resource: value.Text("doc-1"),
	}
	vote := voter.Vote{
		Decision: voter.Permit,
		Voter:    voter.VoterMetadata{Name: "p1", PdpID: "app1", ConfigurationID: "cfg-1"},
	}

	sink.OnVote(sub, vote)

	records, err := sink.Recent("app1", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "Permit", records[0].Decision)
	assert.Equal(t, "p1", records[0].VoterName)
}
