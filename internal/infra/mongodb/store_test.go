package mongodb

import (
	"testing"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestToDocuments_StampsUser(t *testing.T) {
	txs := []domain.Transaction{{ID: "a", UserID: "someone-else"}, {ID: "b"}}

	docs := toDocuments("u1", txs)

	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "u1", d.(domain.Transaction).UserID)
	}
	assert.Equal(t, "someone-else", txs[0].UserID, "input slice is not modified")
}

func TestTransactionDocumentKeys(t *testing.T) {
	tx := domain.Transaction{UserID: "u1", ID: "a", Date: "01/01/2024", Type: domain.TypeTransfer, INR: 5}

	raw, err := bson.Marshal(tx)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "u1", m["user"])
	assert.Equal(t, "a", m["ID"])
	assert.Equal(t, "Transfer", m["Income/Expense"])
	assert.Equal(t, 5.0, m["INR"])
	assert.NotContains(t, m, "FromAccount", "empty transfer ends are omitted")
}

func TestUserFilter(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "user", Value: "u1"}}, userFilter("u1"))
}
