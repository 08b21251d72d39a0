package persistence

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emailCols = []string{"message_id", "from_addr", "to_addr", "date", "subject", "body"}

func newMockIndex(t *testing.T) (*EmailIndex, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewEmailIndex(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func kaiEmail() *domain.Email {
	return &domain.Email{
		From:      "Kai Henderson <Kai@Corp.io>",
		To:        "me@example.com",
		Date:      "2025-03-08T09:00:00Z",
		Subject:   "Invoice #2231",
		Body:      "Please find the invoice attached.",
		MessageID: "<CAB123@mail.gmail.com>",
	}
}

func TestEmailIndex_Upsert(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emails")).
		WithArgs("<CAB123@mail.gmail.com>", "Kai Henderson <Kai@Corp.io>", "me@example.com",
			"kai@corp.io", "me@example.com", "2025-03-08T09:00:00Z", sqlmock.AnyArg(),
			"Invoice #2231", "Please find the invoice attached.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, idx.Upsert(context.Background(), kaiEmail()))

	// same message_id again updates the row in place
	revised := kaiEmail()
	revised.Subject = "Invoice #2231 (revised)"
	mock.ExpectExec(`(?s)INSERT INTO emails .*ON CONFLICT \(message_id\) DO UPDATE SET.*subject = EXCLUDED\.subject`).
		WithArgs("<CAB123@mail.gmail.com>", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "Invoice #2231 (revised)", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, idx.Upsert(context.Background(), revised))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailIndex_UpsertSkipsMissingID(t *testing.T) {
	idx, mock := newMockIndex(t)

	require.NoError(t, idx.Upsert(context.Background(), &domain.Email{Subject: "no id"}))
	require.NoError(t, idx.UpsertMany(context.Background(), []*domain.Email{nil, {Subject: "no id"}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailIndex_UpsertMany(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "commits batch",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO emails"))
				prep.ExpectExec().WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
					sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "rolls back on failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO emails"))
				prep.ExpectExec().WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name: "begin failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, mock := newMockIndex(t)
			tt.setupMock(mock)

			second := kaiEmail()
			second.MessageID = "18e2f9a0c1"
			err := idx.UpsertMany(context.Background(), []*domain.Email{kaiEmail(), second})

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsSearchUnavailable(err))
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestEmailIndex_Search(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectPrefix + " WHERE search_vector @@ to_tsquery('simple', $1)")).
		WithArgs("invoice", 10).
		WillReturnRows(sqlmock.NewRows(emailCols).
			AddRow("<CAB123@mail.gmail.com>", "Kai Henderson <Kai@Corp.io>", "me@example.com",
				"2025-03-08T09:00:00Z", "Invoice #2231", "Please find the invoice attached."))

	emails, err := idx.Search(context.Background(), "invoice", nil, 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "Kai Henderson <Kai@Corp.io>", emails[0].From)
	assert.Equal(t, "<CAB123@mail.gmail.com>", emails[0].MessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailIndex_SearchEmpty(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectPrefix)).
		WillReturnRows(sqlmock.NewRows(emailCols))

	emails, err := idx.Search(context.Background(), "nothing", nil, 10)
	require.NoError(t, err)
	assert.NotNil(t, emails)
	assert.Empty(t, emails)
}

func TestEmailIndex_SearchErrors(t *testing.T) {
	t.Run("backend failure is unavailable", func(t *testing.T) {
		idx, mock := newMockIndex(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectPrefix)).WillReturnError(errors.New("connection refused"))

		_, err := idx.Search(context.Background(), "invoice", nil, 10)
		require.Error(t, err)
		assert.True(t, apperr.IsSearchUnavailable(err))
		assert.Equal(t, http.StatusServiceUnavailable, apperr.GetHTTPStatus(err))
	})

	t.Run("bad filter is a client error", func(t *testing.T) {
		idx, mock := newMockIndex(t)
		filter := `cc = "x@y.io"`

		_, err := idx.Search(context.Background(), "", &filter, 10)
		require.Error(t, err)
		assert.False(t, apperr.IsSearchUnavailable(err))
		assert.Equal(t, http.StatusBadRequest, apperr.GetHTTPStatus(err))
		assert.ErrorIs(t, err, ErrInvalidFilter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEmailIndex_Fetch(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectPrefix + " ORDER BY date_ts DESC NULLS LAST, message_id LIMIT $1")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(emailCols).
			AddRow("a", "Kai <kai@corp.io>", "", "2025-03-08", "One", "").
			AddRow("b", "Kay <kay@corp.io>", "", "", "Two", ""))

	emails, err := idx.Fetch(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "a", emails[0].MessageID)
	assert.Equal(t, "Two", emails[1].Subject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailIndex_DeleteAndClear(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM emails WHERE message_id = $1")).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE emails")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, idx.Delete(ctx, "m1"))
	require.NoError(t, idx.Clear(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailIndex_CanceledIsNotUnavailable(t *testing.T) {
	idx, mock := newMockIndex(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM emails")).WillReturnError(context.Canceled)

	err := idx.Delete(context.Background(), "m1")
	require.Error(t, err)
	assert.False(t, apperr.IsSearchUnavailable(err))
}
