package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/notify"
	"github.com/hugh/go-referral/internal/testutil"
	"github.com/hugh/go-referral/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookSink struct {
	mu       sync.Mutex
	bodies   [][]byte
	sigs     []string
	eventIDs []string
	failWith int
}

func (s *webhookSink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.sigs = append(s.sigs, r.Header.Get(notify.HeaderSignature))
		s.eventIDs = append(s.eventIDs, r.Header.Get(notify.HeaderEventID))
		fail := s.failWith
		s.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func statusTask(t *testing.T, evt notify.Event) *asynq.Task {
	t.Helper()
	task, err := NewStatusChangedTask(evt)
	require.NoError(t, err)
	return task
}

func TestNewStatusChangedTask(t *testing.T) {
	evt := notify.StatusChanged(uuid.New(), models.StatusSent, models.StatusAccepted, time.Now())
	task := statusTask(t, evt)

	assert.Equal(t, TypeReferralStatusChanged, task.Type())

	var decoded notify.Event
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, models.StatusAccepted, decoded.To)
}

func TestHandleStatusChanged(t *testing.T) {
	setup := testutil.NewTestContext(t)
	defer setup.Cleanup()

	enc := testutil.NewTestEncryptor(t)
	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	sealed, err := enc.SealString("whsec_receiver")
	require.NoError(t, err)
	receiver, _, _ := setup.AddClinic(t, "Receiving Clinic")
	require.NoError(t, setup.DB.Model(receiver).Updates(map[string]interface{}{
		"webhook_url":    srv.URL,
		"webhook_secret": sealed,
	}).Error)

	from, to := setup.Clinic.ID, receiver.ID
	ref := &models.Referral{
		Direction:        models.DirectionOutgoing,
		Origin:           models.OriginDashboard,
		Status:           models.StatusSent,
		Urgency:          models.UrgencyRoutine,
		FromClinicID:     &from,
		ToClinicID:       &to,
		PatientFirstName: "Ana",
		PatientLastName:  "Silva",
		Reason:           "Implant consult",
		Version:          1,
	}
	require.NoError(t, setup.DB.Create(ref).Error)

	handler := NewHandler(setup.DB, testutil.DiscardLogger(), enc, notify.NewWebhookSender(time.Second))

	t.Run("delivers signed payload to configured clinics", func(t *testing.T) {
		evt := notify.StatusChanged(ref.ID, models.StatusSent, models.StatusAccepted, time.Now())
		require.NoError(t, handler.HandleStatusChanged(context.Background(), statusTask(t, evt)))

		sink.mu.Lock()
		defer sink.mu.Unlock()
		require.Len(t, sink.bodies, 1)
		assert.True(t, notify.VerifySignature("whsec_receiver", sink.bodies[0], sink.sigs[0]))
	})

	t.Run("failed delivery is retried", func(t *testing.T) {
		sink.mu.Lock()
		sink.failWith = http.StatusServiceUnavailable
		sink.mu.Unlock()

		evt := notify.StatusChanged(ref.ID, models.StatusAccepted, models.StatusCompleted, time.Now())
		err := handler.HandleStatusChanged(context.Background(), statusTask(t, evt))
		assert.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("unknown referral skips retry", func(t *testing.T) {
		evt := notify.StatusChanged(uuid.New(), models.StatusSent, models.StatusAccepted, time.Now())
		err := handler.HandleStatusChanged(context.Background(), statusTask(t, evt))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("invalid payload", func(t *testing.T) {
		err := handler.HandleStatusChanged(context.Background(), asynq.NewTask(TypeReferralStatusChanged, []byte("invalid json")))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal payload")
	})
}

func TestHandleStatusChanged_RetryRepeatsEventID(t *testing.T) {
	setup := testutil.NewTestContext(t)
	defer setup.Cleanup()

	enc := testutil.NewTestEncryptor(t)
	healthy := &webhookSink{}
	healthySrv := httptest.NewServer(healthy.handler())
	defer healthySrv.Close()
	down := &webhookSink{failWith: http.StatusBadGateway}
	downSrv := httptest.NewServer(down.handler())
	defer downSrv.Close()

	sealed, err := enc.SealString("whsec_both")
	require.NoError(t, err)
	receiver, _, _ := setup.AddClinic(t, "Receiving Clinic")
	require.NoError(t, setup.DB.Model(setup.Clinic).Updates(map[string]interface{}{
		"webhook_url":    healthySrv.URL,
		"webhook_secret": sealed,
	}).Error)
	require.NoError(t, setup.DB.Model(receiver).Updates(map[string]interface{}{
		"webhook_url":    downSrv.URL,
		"webhook_secret": sealed,
	}).Error)

	from, to := setup.Clinic.ID, receiver.ID
	ref := &models.Referral{
		Direction:        models.DirectionOutgoing,
		Origin:           models.OriginDashboard,
		Status:           models.StatusAccepted,
		Urgency:          models.UrgencyRoutine,
		FromClinicID:     &from,
		ToClinicID:       &to,
		PatientFirstName: "Ana",
		PatientLastName:  "Silva",
		Reason:           "Implant consult",
		Version:          1,
	}
	require.NoError(t, setup.DB.Create(ref).Error)

	handler := NewHandler(setup.DB, testutil.DiscardLogger(), enc, notify.NewWebhookSender(time.Second))
	evt := notify.StatusChanged(ref.ID, models.StatusSent, models.StatusAccepted, time.Now())
	task := statusTask(t, evt)

	require.Error(t, handler.HandleStatusChanged(context.Background(), task))
	require.Error(t, handler.HandleStatusChanged(context.Background(), task))

	healthy.mu.Lock()
	defer healthy.mu.Unlock()
	require.Len(t, healthy.eventIDs, 2, "the clinic that already accepted is sent the event again")
	assert.Equal(t, evt.ID.String(), healthy.eventIDs[0])
	assert.Equal(t, healthy.eventIDs[0], healthy.eventIDs[1], "receivers dedupe on the event id")
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "1", Queue: queue.QueueNotifications}, nil
}

func TestPublisher(t *testing.T) {
	t.Run("enqueues a status change task", func(t *testing.T) {
		fake := &fakeEnqueuer{}
		pub := &Publisher{client: fake}

		evt := notify.StatusChanged(uuid.New(), "", models.StatusSubmitted, time.Now())
		require.NoError(t, pub.Publish(context.Background(), evt))
		require.Len(t, fake.tasks, 1)
		assert.Equal(t, TypeReferralStatusChanged, fake.tasks[0].Type())
	})

	t.Run("duplicate task id is not an error", func(t *testing.T) {
		pub := &Publisher{client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
		assert.NoError(t, pub.Publish(context.Background(), notify.StatusChanged(uuid.New(), "", models.StatusSent, time.Now())))
	})

	t.Run("enqueue failure surfaces", func(t *testing.T) {
		pub := &Publisher{client: &fakeEnqueuer{err: errors.New("redis down")}}
		assert.Error(t, pub.Publish(context.Background(), notify.StatusChanged(uuid.New(), "", models.StatusSent, time.Now())))
	})
}
