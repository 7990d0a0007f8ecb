package contracts

import "github.com/hilthontt/parley/internal/domain"

// AmqpMessage wraps the lifecycle notifications sent to the audit queue.
type AmqpMessage struct {
	ActorID string `json:"actorId"`
	Data    []byte `json:"data"`
}

const (
	CommandExchange    = "chat"
	DeadLetterExchange = "chat.dlx"
)

// Every queue is bound to its exchange with its own name as routing key.
const (
	CreateQueue     = "chat.create"
	JoinQueue       = "chat.join"
	InviteQueue     = "chat.invite"
	SendQueue       = "chat.send"
	OutQueue        = "chat.out"
	LeaveQueue      = "chat.leave"
	AuditQueue      = "chat.audit"
	DeadLetterQueue = "chat.dead"
)

var commandQueues = map[domain.CommandType]string{
	domain.CommandCreate: CreateQueue,
	domain.CommandJoin:   JoinQueue,
	domain.CommandInvite: InviteQueue,
	domain.CommandSend:   SendQueue,
	domain.CommandOut:    OutQueue,
	domain.CommandLeave:  LeaveQueue,
}

// QueueFor returns the queue consuming commands of type t.
func QueueFor(t domain.CommandType) (string, bool) {
	q, ok := commandQueues[t]
	return q, ok
}

// CommandQueues lists the command queues in domain.CommandTypes order.
func CommandQueues() []string {
	queues := make([]string, 0, len(domain.CommandTypes))
	for _, t := range domain.CommandTypes {
		queues = append(queues, commandQueues[t])
	}
	return queues
}
