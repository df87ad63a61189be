// Package mongo implements store.Store on MongoDB, matching the schema
// named in spec.md §6: `flow_versions(flow_version_id, flow_id, account_id,
// published, flow_definition)` and `tasks(task_id, account_id,
// flow_session_id, flow_version_id, action_id, action_label, type,
// plugin_name, plugin_version, processing_order, stage, config, result,
// context, error, task_status, flow_session_status,
// trigger_session_status, started_at, ended_at)`.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"flowengine/internal/flow"
	"flowengine/internal/store"
)

// Store implements store.Store against two collections in a single database:
// flow_versions and tasks. Session status lives on a third, sessions,
// updated only by UpdateSessionStatus.
type Store struct {
	versions *mongo.Collection
	tasks    *mongo.Collection
	sessions *mongo.Collection
}

// New wraps an already-connected *mongo.Database.
func New(db *mongo.Database) *Store {
	return &Store{
		versions: db.Collection("flow_versions"),
		tasks:    db.Collection("tasks"),
		sessions: db.Collection("sessions"),
	}
}

type versionDoc struct {
	FlowVersionID string         `bson:"flow_version_id"`
	FlowID        string         `bson:"flow_id"`
	AccountID     string         `bson:"account_id"`
	Published     bool           `bson:"published"`
	Definition    flow.Definition `bson:"flow_definition"`
}

func (s *Store) FlowVersion(ctx context.Context, flowVersionID string) (flow.Version, error) {
	var doc versionDoc
	err := s.versions.FindOne(ctx, bson.M{"flow_version_id": flowVersionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return flow.Version{}, store.ErrNotFound
	}
	if err != nil {
		return flow.Version{}, err
	}
	return flow.Version{
		FlowVersionID: doc.FlowVersionID,
		FlowID:        doc.FlowID,
		AccountID:     doc.AccountID,
		Published:     doc.Published,
		Definition:    doc.Definition,
	}, nil
}

func (s *Store) PublishedTriggerVersions(ctx context.Context) ([]flow.Version, error) {
	cur, err := s.versions.Find(ctx, bson.M{"published": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []flow.Version
	for cur.Next(ctx) {
		var doc versionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		hasCronTrigger := false
		for _, a := range doc.Definition.Actions {
			if a.Kind == flow.ActionKindTrigger && a.PluginName == "@anything/cron" {
				hasCronTrigger = true
				break
			}
		}
		if !hasCronTrigger {
			continue
		}
		out = append(out, flow.Version{
			FlowVersionID: doc.FlowVersionID,
			FlowID:        doc.FlowID,
			AccountID:     doc.AccountID,
			Published:     doc.Published,
			Definition:    doc.Definition,
		})
	}
	return out, cur.Err()
}

func (s *Store) InsertTask(ctx context.Context, task flow.Task) error {
	_, err := s.tasks.InsertOne(ctx, task)
	return err
}

func (s *Store) UpdateTask(ctx context.Context, taskID string, patch store.TaskPatch) error {
	set := bson.M{"task_status": patch.Status}
	if patch.Result != nil {
		set["result"] = patch.Result
	}
	if patch.Context != nil {
		set["context"] = patch.Context
	}
	if patch.Error != nil {
		set["error"] = patch.Error
	}
	if patch.StartedAt != nil {
		set["started_at"] = time.Unix(0, *patch.StartedAt)
	}
	if patch.EndedAt != nil {
		set["ended_at"] = time.Unix(0, *patch.EndedAt)
	}
	res, err := s.tasks.UpdateOne(ctx, bson.M{"task_id": taskID}, bson.M{"$set": set},
		options.UpdateOne().SetUpsert(false))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, flowStatus, triggerStatus flow.SessionStatus) error {
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"flow_session_status":    flowStatus,
			"trigger_session_status": triggerStatus,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
