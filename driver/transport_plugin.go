package driver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evalgo-org/evalcore/response"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// PluginTransport hands a job to an external worker over a durable AMQP
// queue and waits for the matching reply on a private, auto-deleted reply
// queue, grounded on queue/rabbit.go's RabbitMQService (durable
// QueueDeclare, JSON-marshalled Publish) generalized with a
// correlation-id/reply-queue round trip so one queue can serve many
// in-flight evaluations concurrently.
type PluginTransport struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     *logrus.Entry
}

// pluginRequest is the wire message published to the work queue.
type pluginRequest struct {
	EvaluationID int64  `json:"evaluationId"`
	InterfaceID  string `json:"interfaceId"`
	ParamsPath   string `json:"paramsPath"`
	ResultsPath  string `json:"resultsPath"`
	WorkDir      string `json:"workDir"`
}

// pluginReply is the wire message a plugin worker publishes back.
type pluginReply struct {
	Fail      bool          `json:"fail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Labels    []string      `json:"labels"`
	Values    []float64     `json:"values"`
	Gradients [][]float64   `json:"gradients,omitempty"`
	Hessians  [][][]float64 `json:"hessians,omitempty"`
}

// NewPluginTransport dials the broker, opens a channel, and declares the
// durable work queue.
func NewPluginTransport(amqpURL, queueName string, log *logrus.Entry) (*PluginTransport, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("driver: dialing amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("driver: opening amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("driver: declaring work queue: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PluginTransport{conn: conn, channel: ch, queue: queueName, log: log.WithField("transport", "plugin")}, nil
}

func (t *PluginTransport) Name() string { return "plugin" }

// Close releases the channel and connection.
func (t *PluginTransport) Close() error {
	t.channel.Close()
	return t.conn.Close()
}

// Launch publishes the job to the work queue and blocks on a private reply
// queue correlated by id, until the context is cancelled or a reply
// arrives.
func (t *PluginTransport) Launch(ctx context.Context, job Job, lc LaunchContext) Outcome {
	replyQueue, err := t.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: declaring reply queue: %v", ErrEvaluationFailure, err)}
	}

	correlationID := uuid.New().String()
	deliveries, err := t.channel.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: consuming reply queue: %v", ErrEvaluationFailure, err)}
	}

	body, err := json.Marshal(pluginRequest{
		EvaluationID: job.EvaluationID,
		InterfaceID:  job.InterfaceID,
		ParamsPath:   lc.ParamsPath,
		ResultsPath:  lc.ResultsPath,
		WorkDir:      lc.WorkDir,
	})
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: marshalling plugin request: %v", ErrEvaluationFailure, err)}
	}

	err = t.channel.Publish("", t.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
	})
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: publishing to work queue: %v", ErrEvaluationFailure, err)}
	}

	t.log.WithFields(logrus.Fields{"evaluation_id": job.EvaluationID, "correlation_id": correlationID}).Debug("published evaluation to plugin queue")

	for {
		select {
		case <-ctx.Done():
			return Outcome{Err: ctx.Err()}
		case d, ok := <-deliveries:
			if !ok {
				return Outcome{Err: fmt.Errorf("%w: reply queue closed before plugin responded", ErrEvaluationFailure)}
			}
			if d.CorrelationId != correlationID {
				continue
			}
			var reply pluginReply
			if err := json.Unmarshal(d.Body, &reply); err != nil {
				return Outcome{Err: fmt.Errorf("%w: malformed plugin reply: %v", ErrInvalidResponse, err)}
			}
			if reply.Fail {
				return Outcome{Err: fmt.Errorf("%w: %s", ErrEvaluationFailure, reply.Error)}
			}
			return Outcome{Response: &response.Response{
				Labels:    reply.Labels,
				Values:    reply.Values,
				Gradients: reply.Gradients,
				Hessians:  reply.Hessians,
				Set:       job.ActiveSet,
			}}
		}
	}
}
