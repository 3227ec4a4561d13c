package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func reply(status int) (*http.Response, error) {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}, nil
}

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{}, zap.NewNop())

	alert := TonerAlert{MachineID: 123, Branch: "north", PartName: "Black toner"}
	assert.True(t, wp.Dispatch(alert))

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, alert, job)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{}, zap.NewNop())

	for i := 0; i < cap(wp.Jobs()); i++ {
		require.True(t, wp.Dispatch(TonerAlert{MachineID: int64(i)}))
	}
	assert.False(t, wp.Dispatch(TonerAlert{MachineID: 999}))
}

func TestMessage(t *testing.T) {
	alert := TonerAlert{PartName: "Toner", TonerColor: "cyan", PercentOfYield: 93}
	assert.Equal(t, "Machine SN-1: Toner (cyan) is at 93% of its rated yield and due for replacement", Message(alert, "SN-1"))

	alert.TonerColor = ""
	assert.Equal(t, "Machine 7: Toner is at 93% of its rated yield and due for replacement", Message(alert, "7"))
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	subscriptionQuery := `SELECT \* FROM "push_subscriptions" WHERE \(?branch = \$1 OR branch = \$2\)?`
	machineQuery := `SELECT "serial_number" FROM "machines" WHERE "machines"."id" = \$1 ORDER BY "machines"."id" LIMIT \$[0-9]+`

	t.Run("sends notification for one subscription", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		var wg sync.WaitGroup
		wg.Add(1)

		wp := NewWorkerPool(1, gormDB, &webpush.Options{}, zap.NewNop()).WithSender(&mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)
				assert.Equal(t, "Machine SN-101: Black toner is at 92% of its rated yield and due for replacement", string(payload))
				return reply(http.StatusCreated)
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("", "north").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "branch", "created_at"}).
				AddRow("https://example.com/push", "test_p256dh", "test_auth", "north", time.Now()))
		mock.ExpectQuery(machineQuery).
			WithArgs(101, 1).
			WillReturnRows(sqlmock.NewRows([]string{"serial_number"}).AddRow("SN-101"))

		wp.Start(ctx)
		wp.Dispatch(TonerAlert{MachineID: 101, Branch: "north", PartName: "Black toner", PercentOfYield: 92})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		wp := NewWorkerPool(1, gormDB, &webpush.Options{}, zap.NewNop()).WithSender(&mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return reply(http.StatusGone)
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("", "south").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "branch", "created_at"}).
				AddRow("https://example.com/expired", "k", "a", "", time.Now()))
		mock.ExpectQuery(machineQuery).
			WithArgs(102, 1).
			WillReturnRows(sqlmock.NewRows([]string{"serial_number"}).AddRow("SN-102"))
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Start(ctx)
		wp.Dispatch(TonerAlert{MachineID: 102, Branch: "south", PartName: "Drum"})

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("falls back to machine ID when lookup fails", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		var wg sync.WaitGroup
		wg.Add(1)

		wp := NewWorkerPool(1, gormDB, &webpush.Options{}, zap.NewNop()).WithSender(&mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "Machine 103: Toner (magenta) is at 95% of its rated yield and due for replacement", string(payload))
				return reply(http.StatusCreated)
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("", "north").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "branch", "created_at"}).
				AddRow("https://example.com/fallback", "k", "a", "north", time.Now()))
		mock.ExpectQuery(machineQuery).
			WithArgs(103, 1).
			WillReturnError(fmt.Errorf("machine not found"))

		wp.Start(ctx)
		wp.Dispatch(TonerAlert{MachineID: 103, Branch: "north", PartName: "Toner", TonerColor: "magenta", PercentOfYield: 95})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no subscribers sends nothing", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		wp := NewWorkerPool(1, gormDB, &webpush.Options{}, zap.NewNop()).WithSender(&mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				t.Error("unexpected send")
				return reply(http.StatusCreated)
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("", "east").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint"}))

		wp.Start(ctx)
		wp.Dispatch(TonerAlert{MachineID: 104, Branch: "east"})
		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})
}
