package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/domain"
)

// Storage provides access to the persistence collaborator: project boards
// are read from the tasks table (partitioned by project) and applied
// events are enqueued to the write-model queue. The realtime core's
// correctness never depends on this layer's latency.
type Storage struct {
	taskTable  *aztables.Client
	userTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable, eventQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	ut := svc.NewClient(usersTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: tt, userTable: ut, eventQueue: eq}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string  `json:"Title"`
	Description string  `json:"Description"`
	Tag         string  `json:"Tag"`
	DueDate     string  `json:"DueDate"`
	AssigneeID  string  `json:"AssigneeId"`
	Column      string  `json:"Column"`
	Position    float64 `json:"Position"`
}

// LoadProject reads every task in the project's partition and buckets them
// into the fixed workflow columns ordered by position.
func (s *Storage) LoadProject(ctx context.Context, projectID string) (*domain.Board, error) {
	filter := partitionFilter(projectID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	board := domain.NewBoard(projectID)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			col := board.Column(ent.Column)
			if col == nil {
				log.Warnf("task %s in project %s has unknown column %q, skipping", ent.RowKey, projectID, ent.Column)
				continue
			}
			col.Tasks = append(col.Tasks, domain.Task{
				ID:          ent.RowKey,
				Title:       ent.Title,
				Description: ent.Description,
				Tag:         ent.Tag,
				DueDate:     parseDueDate(ent.DueDate),
				AssigneeID:  ent.AssigneeID,
				Position:    ent.Position,
			})
		}
	}
	for i := range board.Columns {
		tasks := board.Columns[i].Tasks
		sort.SliceStable(tasks, func(a, b int) bool { return tasks[a].Position < tasks[b].Position })
	}
	return board, nil
}

// partitionFilter builds the OData filter selecting one project partition.
// The project identifier arrives from the wire, so embedded single quotes
// are doubled per the tables query syntax; otherwise a crafted projectId
// could widen the filter onto other projects' partitions.
func partitionFilter(projectID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(projectID, "'", "''") + "'"
}

func parseDueDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

type eventEnvelope struct {
	Type  string       `json:"type"`
	Event domain.Event `json:"event"`
}

// PersistEvent enqueues the applied event to the write-model queue. The
// downstream consumer folds it into durable task records; ordering
// guarantees stop at the queue boundary.
func (s *Storage) PersistEvent(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(eventEnvelope{Type: ev.Type, Event: ev})
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

type userEntity struct {
	aztables.Entity
	Name   string `json:"Name"`
	Avatar string `json:"Avatar"`
}

// FetchUser resolves a user for display purposes.
func (s *Storage) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.User{}, &domain.NotFoundError{Kind: "user", ID: userID}
		}
		return domain.User{}, err
	}
	var u userEntity
	if err := json.Unmarshal(ent.Value, &u); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: userID, Name: u.Name, Avatar: u.Avatar}, nil
}
