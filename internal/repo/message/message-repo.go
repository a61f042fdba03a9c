package message_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/prolaunch/chat-core/internal/entity"
	app_error "github.com/prolaunch/chat-core/internal/errors"
	"github.com/prolaunch/chat-core/state"
)

const (
	messagesCollection  = "messages"
	receiptsCollection  = "read_receipts"
	reactionsCollection = "reactions"
)

type MessageRepo struct {
	AppState *state.AppState
}

func NewMessageRepo(appState *state.AppState) MessageRepoContract {
	return &MessageRepo{AppState: appState}
}

func (r *MessageRepo) messages() *mongo.Collection {
	return r.AppState.MongoDatabase().Collection(messagesCollection)
}

func (r *MessageRepo) receipts() *mongo.Collection {
	return r.AppState.MongoDatabase().Collection(receiptsCollection)
}

func (r *MessageRepo) reactions() *mongo.Collection {
	return r.AppState.MongoDatabase().Collection(reactionsCollection)
}

func (r *MessageRepo) MaxSequence(ctx context.Context, roomID string) (int64, *app_error.AppError) {
	var msg entity.Message
	err := r.messages().FindOne(ctx,
		bson.M{"room_id": roomID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, app_error.Storage(fmt.Sprintf("failed to read max sequence: %v", err), "mongo")
	}
	return msg.Seq, nil
}

func (r *MessageRepo) Insert(ctx context.Context, msg *entity.Message) *app_error.AppError {
	if msg.ID.IsZero() {
		msg.ID = bson.NewObjectID()
	}
	if _, err := r.messages().InsertOne(ctx, msg); err != nil {
		log.Error().Err(err).Str("roomID", msg.RoomID).Int64("seq", msg.Seq).Msg("failed to insert message")
		if mongo.IsDuplicateKeyError(err) {
			return app_error.Conflict("sequence already taken", "seq")
		}
		return app_error.Storage(fmt.Sprintf("failed to insert message: %v", err), "mongo")
	}
	return nil
}

func (r *MessageRepo) History(ctx context.Context, roomID string, beforeSeq *int64, limit int) ([]*entity.Message, *app_error.AppError) {
	filter := bson.M{"room_id": roomID}
	if beforeSeq != nil {
		filter["seq"] = bson.M{"$lt": *beforeSeq}
	}

	cur, err := r.messages().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, app_error.Storage(fmt.Sprintf("failed to fetch messages: %v", err), "mongo")
	}
	defer cur.Close(ctx)

	var messages []*entity.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, app_error.Storage(fmt.Sprintf("failed to decode messages: %v", err), "mongo")
	}
	return messages, nil
}

func (r *MessageRepo) FindByID(ctx context.Context, messageID string) (*entity.Message, *app_error.AppError) {
	objID, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, app_error.Validation(fmt.Sprintf("invalid message ID: %v", err), "message-id")
	}

	var msg entity.Message
	if err := r.messages().FindOne(ctx, bson.M{"_id": objID}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, app_error.NotFound("message not found", "not-found")
		}
		return nil, app_error.Storage(fmt.Sprintf("failed to fetch message: %v", err), "mongo")
	}
	return &msg, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, messageID, content string, at time.Time) *app_error.AppError {
	objID, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return app_error.Validation(fmt.Sprintf("invalid message ID: %v", err), "message-id")
	}

	res, err := r.messages().UpdateOne(ctx,
		bson.M{"_id": objID, "deleted_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"content": content, "edited_at": at}},
	)
	if err != nil {
		return app_error.Storage(fmt.Sprintf("failed to update message: %v", err), "mongo")
	}
	if res.MatchedCount == 0 {
		return app_error.NotFound("message not found", "not-found")
	}
	return nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, messageID string, at time.Time) *app_error.AppError {
	objID, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return app_error.Validation(fmt.Sprintf("invalid message ID: %v", err), "message-id")
	}

	res, err := r.messages().UpdateOne(ctx,
		bson.M{"_id": objID},
		bson.M{"$set": bson.M{"deleted_at": at}},
	)
	if err != nil {
		return app_error.Storage(fmt.Sprintf("failed to delete message: %v", err), "mongo")
	}
	if res.MatchedCount == 0 {
		return app_error.NotFound("message not found", "not-found")
	}
	return nil
}

func (r *MessageRepo) UpsertReceipts(ctx context.Context, userID string, messageIDs []string, at time.Time) (int, *app_error.AppError) {
	created := 0
	for _, messageID := range messageIDs {
		res, err := r.receipts().UpdateOne(ctx,
			bson.M{"message_id": messageID, "user_id": userID},
			bson.M{"$setOnInsert": bson.M{
				"message_id": messageID,
				"user_id":    userID,
				"read_at":    at,
			}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return created, app_error.Storage(fmt.Sprintf("failed to upsert receipt: %v", err), "mongo")
		}
		if res.UpsertedCount > 0 {
			created++
		}
	}
	return created, nil
}

func (r *MessageRepo) AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, *app_error.AppError) {
	res, err := r.reactions().UpdateOne(ctx,
		bson.M{"message_id": messageID, "user_id": userID, "emoji": emoji},
		bson.M{"$setOnInsert": bson.M{
			"message_id": messageID,
			"user_id":    userID,
			"emoji":      emoji,
			"created_at": time.Now().UTC(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, app_error.Storage(fmt.Sprintf("failed to add reaction: %v", err), "mongo")
	}
	return res.UpsertedCount > 0, nil
}

func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, *app_error.AppError) {
	res, err := r.reactions().DeleteOne(ctx,
		bson.M{"message_id": messageID, "user_id": userID, "emoji": emoji},
	)
	if err != nil {
		return false, app_error.Storage(fmt.Sprintf("failed to remove reaction: %v", err), "mongo")
	}
	return res.DeletedCount > 0, nil
}
