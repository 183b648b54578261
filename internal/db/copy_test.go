package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "contacts", []string{"id", "phone"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contacts"}, []string{"id", "phone"}).WillReturnResult(3)

	rows := [][]any{{"a", "5551230001"}, {"b", "5551230002"}, {"c", "5551230003"}}
	n, err := CopyFrom(context.Background(), mock, "contacts", []string{"id", "phone"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contacts"}, []string{"id"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"a"}}
	_, err = CopyFrom(context.Background(), mock, "contacts", []string{"id"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO contacts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
