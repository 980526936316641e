package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/events"
	"slotdesk/internal/metrics"
	"slotdesk/internal/models"
	"slotdesk/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ResourceLookup resolves the owner chat for a booking's resource.
type ResourceLookup interface {
	Get(ctx context.Context, ref string) (*models.Resource, error)
}

// taskPayload is persisted in NotificationTask.Payload as JSON.
type taskPayload struct {
	Channel string         `json:"channel"`
	Message notify.Message `json:"message"`
}

// NotificationWorker is the scheduler's Notifier. Notify writes one outbox row
// per sender and hands it to redis or the local queue; Start delivers them
// with exponential backoff, moving exhausted tasks to the dead-letter list.
type NotificationWorker struct {
	queue         domain.NotificationQueue
	senders       map[string]notify.Sender
	order         []string
	resources     ResourceLookup
	redis         *redis.Client
	retryPolicy   RetryPolicy
	local         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	now           func() time.Time
	logger        *zerolog.Logger
}

func NewNotificationWorker(
	queue domain.NotificationQueue,
	senders []notify.Sender,
	resources ResourceLookup,
	redisClient *redis.Client,
	retry RetryPolicy,
	pollInterval time.Duration,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	w := &NotificationWorker{
		queue:         queue,
		senders:       make(map[string]notify.Sender, len(senders)),
		resources:     resources,
		redis:         redisClient,
		retryPolicy:   retry,
		local:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: "slotdesk:notify:queue",
		deadLetterKey: "slotdesk:notify:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		now:           time.Now,
		logger:        logger,
	}
	for _, s := range senders {
		w.senders[s.Name()] = s
		w.order = append(w.order, s.Name())
	}
	return w
}

// Notify implements domain.Notifier.
func (w *NotificationWorker) Notify(ctx context.Context, event string, b *models.Booking) error {
	if b == nil || b.ID == "" {
		return errors.New("booking id is required")
	}
	if len(w.order) == 0 {
		return nil
	}

	msg := notify.Message{
		Event:   event,
		Booking: events.PayloadFromBooking(b),
		SentAt:  w.now().UTC(),
	}
	if w.resources != nil {
		if res, err := w.resources.Get(ctx, b.ResourceRef); err == nil {
			msg.ChatID = res.NotifyChatID
		}
	}

	var errs []error
	for _, channel := range w.order {
		if err := w.enqueue(ctx, channel, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

func (w *NotificationWorker) enqueue(ctx context.Context, channel string, msg notify.Message) error {
	raw, err := json.Marshal(taskPayload{Channel: channel, Message: msg})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotificationTask{
		EventKind: msg.Event,
		BookingID: msg.Booking.BookingID,
		Payload:   string(raw),
		Status:    models.TaskPending,
	}
	if err := w.queue.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}
	metrics.IncNotification(channel, "queued")

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("notification_worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.local <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("notification_worker: in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Strs("senders", w.order).Msg("notification_worker: started")
	defer w.logger.Info().Msg("notification_worker: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// RunOnce processes whatever is ready and reports whether it found work.
func (w *NotificationWorker) RunOnce(ctx context.Context) bool {
	if t, ok := w.tryLocalQueue(); ok {
		w.processTask(ctx, &t)
		return true
	}
	if t, ok := w.tryRedis(ctx); ok {
		w.processTask(ctx, &t)
		return true
	}

	tasks, err := w.queue.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("notification_worker: fetch pending")
		return false
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks) > 0
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.local:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("notification_worker: redis BRPOP error")
		}
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("notification_worker: decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	// the same task may arrive from a queue and from polling; the stored row decides
	current, err := w.queue.GetNotificationTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: reload task")
		return
	}
	if current.Status != models.TaskPending && current.Status != models.TaskRetry {
		return
	}
	task = current

	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskProcessing, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: mark processing")
		return
	}

	var payload taskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}
	sender, ok := w.senders[payload.Channel]
	if !ok {
		w.failTask(ctx, task, fmt.Errorf("unknown channel: %s", payload.Channel))
		return
	}

	if err := sender.Send(ctx, payload.Message); err != nil {
		metrics.IncNotification(payload.Channel, "error")
		w.retryOrFail(ctx, task, payload.Channel, err)
		return
	}

	metrics.IncNotification(payload.Channel, "sent")
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, channel string, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().
		Err(cause).
		Int64("task_id", task.ID).
		Str("channel", channel).
		Int("attempt", attempt).
		Time("next_retry_at", next).
		Msg("notification_worker: delivery failed, will retry")
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: mark retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("booking_id", task.BookingID).Msg("notification_worker: task failed")
	metrics.IncNotification("outbox", "failed")
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: mark failed")
	}
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: deadletter push")
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
