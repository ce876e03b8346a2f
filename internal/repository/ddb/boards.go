package ddb

import (
	"context"
	"errors"
	"time"

	"tapestry-backend/internal/domain"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// gsiProjectList is the constant GSI1PK shared by every project record so
// they can all be listed with one index query.
const gsiProjectList = "PROJECT"

// ddbBoard represents a board metadata item in DynamoDB.
type ddbBoard struct {
	PK        string          `dynamodbav:"PK"`
	SK        string          `dynamodbav:"SK"`
	GSI1PK    string          `dynamodbav:"GSI1PK"`
	GSI1SK    string          `dynamodbav:"GSI1SK"`
	BoardID   string          `dynamodbav:"BoardID"`
	Name      string          `dynamodbav:"Name"`
	Slug      string          `dynamodbav:"Slug"`
	ProjectID string          `dynamodbav:"ProjectID"`
	Viewport  domain.Viewport `dynamodbav:"Viewport"`
	CreatedAt string          `dynamodbav:"CreatedAt"`
}

// ddbSlug reserves a board slug. Created in the same transaction as the
// board so slug uniqueness holds under concurrent creates.
type ddbSlug struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	BoardID string `dynamodbav:"BoardID"`
}

// ddbProject represents a project metadata item in DynamoDB.
type ddbProject struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GSI1PK    string `dynamodbav:"GSI1PK"`
	GSI1SK    string `dynamodbav:"GSI1SK"`
	ProjectID string `dynamodbav:"ProjectID"`
	Name      string `dynamodbav:"Name"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

// ddbSettings represents the single shared settings item.
type ddbSettings struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	AgentName string `dynamodbav:"AgentName"`
	APIKey    string `dynamodbav:"APIKey,omitempty"`
	Model     string `dynamodbav:"Model,omitempty"`
}

// CreateProject stores a project metadata item.
func (r *ddbRepository) CreateProject(ctx context.Context, project domain.Project) error {
	item, err := attributevalue.MarshalMap(ddbProject{
		PK:        projectPK(project.ID),
		SK:        skMetadata,
		GSI1PK:    gsiProjectList,
		GSI1SK:    projectPK(project.ID),
		ProjectID: project.ID,
		Name:      project.Name,
		CreatedAt: project.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal project item")
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to put project item")
	}
	return nil
}

// FindProjectByID reads a project metadata item. Returns nil when absent.
func (r *ddbRepository) FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	result, err := r.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       metaKey(projectPK(projectID)),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get project item")
	}
	if result.Item == nil {
		return nil, nil // Not found
	}
	var ddbItem ddbProject
	if err := attributevalue.UnmarshalMap(result.Item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal project item")
	}
	project := unmarshalProject(ddbItem)
	return &project, nil
}

// ListProjects lists every project via the constant-partition index entry.
func (r *ddbRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(gsiProjectList))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build project list expression")
	}
	result, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query projects")
	}
	projects := []domain.Project{}
	for _, item := range result.Items {
		var ddbItem ddbProject
		if err := attributevalue.UnmarshalMap(item, &ddbItem); err == nil {
			projects = append(projects, unmarshalProject(ddbItem))
		}
	}
	return projects, nil
}

// DeleteProject removes the project metadata item. Board cascades are the
// caller's responsibility since each board delete is its own transaction.
func (r *ddbRepository) DeleteProject(ctx context.Context, projectID string) error {
	_, err := r.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       metaKey(projectPK(projectID)),
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to delete project item")
	}
	return nil
}

// CreateBoard writes the board and its slug reservation in one transaction.
// A duplicate slug cancels the transaction and surfaces as a validation error.
func (r *ddbRepository) CreateBoard(ctx context.Context, board domain.Board) error {
	boardItem, err := attributevalue.MarshalMap(ddbBoard{
		PK:        boardPK(board.ID),
		SK:        skMetadata,
		GSI1PK:    projectPK(board.ProjectID),
		GSI1SK:    boardPK(board.ID),
		BoardID:   board.ID,
		Name:      board.Name,
		Slug:      board.Slug,
		ProjectID: board.ProjectID,
		Viewport:  board.Viewport,
		CreatedAt: board.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal board item")
	}
	slugItem, err := attributevalue.MarshalMap(ddbSlug{
		PK:      slugPK(board.Slug),
		SK:      skMetadata,
		BoardID: board.ID,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal slug item")
	}

	_, err = r.dbClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                boardItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                slugItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return appErrors.NewValidation("board slug already exists")
		}
		return appErrors.Wrap(err, "transaction to create board failed")
	}
	return nil
}

// FindBoardByID reads a board metadata item. Returns nil when absent.
func (r *ddbRepository) FindBoardByID(ctx context.Context, boardID string) (*domain.Board, error) {
	result, err := r.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       metaKey(boardPK(boardID)),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get board item")
	}
	if result.Item == nil {
		return nil, nil // Not found
	}
	var ddbItem ddbBoard
	if err := attributevalue.UnmarshalMap(result.Item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal board item")
	}
	board := unmarshalBoard(ddbItem)
	return &board, nil
}

// FindBoardBySlug resolves the slug reservation, then reads the board.
func (r *ddbRepository) FindBoardBySlug(ctx context.Context, slug string) (*domain.Board, error) {
	result, err := r.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       metaKey(slugPK(slug)),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get slug item")
	}
	if result.Item == nil {
		return nil, nil // Not found
	}
	var ddbItem ddbSlug
	if err := attributevalue.UnmarshalMap(result.Item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal slug item")
	}
	return r.FindBoardByID(ctx, ddbItem.BoardID)
}

// ListBoards lists all boards under a project via the lookup index.
func (r *ddbRepository) ListBoards(ctx context.Context, projectID string) ([]domain.Board, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(projectPK(projectID))).
		And(expression.Key("GSI1SK").BeginsWith("BOARD#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build board list expression")
	}
	result, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query boards")
	}
	boards := []domain.Board{}
	for _, item := range result.Items {
		var ddbItem ddbBoard
		if err := attributevalue.UnmarshalMap(item, &ddbItem); err == nil {
			boards = append(boards, unmarshalBoard(ddbItem))
		}
	}
	return boards, nil
}

// UpdateBoardViewport persists a new camera position for an existing board.
func (r *ddbRepository) UpdateBoardViewport(ctx context.Context, boardID string, viewport domain.Viewport) error {
	vp, err := attributevalue.Marshal(viewport)
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal viewport")
	}
	_, err = r.dbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       metaKey(boardPK(boardID)),
		UpdateExpression:          aws.String("SET Viewport = :vp"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":vp": vp},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return appErrors.NewNotFound("board not found")
		}
		return appErrors.Wrap(err, "failed to update board viewport")
	}
	return nil
}

// DeleteBoard removes the board record, its slug reservation, and every
// node, edge, and context entry stored under the board partition.
func (r *ddbRepository) DeleteBoard(ctx context.Context, boardID string) error {
	board, err := r.FindBoardByID(ctx, boardID)
	if err != nil {
		return err
	}
	if board == nil {
		return appErrors.NewNotFound("board not found")
	}

	keys, err := r.queryKeysByPrefix(ctx, boardPK(boardID), "")
	if err != nil {
		return err
	}
	keys = append(keys, metaKey(slugPK(board.Slug)))

	if err := r.transactDelete(ctx, keys); err != nil {
		return appErrors.Wrap(err, "transaction to delete board failed")
	}
	return nil
}

// GetSettings reads the shared settings item. Returns nil when unset.
func (r *ddbRepository) GetSettings(ctx context.Context) (*domain.Settings, error) {
	result, err := r.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       metaKey("SETTINGS"),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get settings item")
	}
	if result.Item == nil {
		return nil, nil // Not found
	}
	var ddbItem ddbSettings
	if err := attributevalue.UnmarshalMap(result.Item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal settings item")
	}
	return &domain.Settings{
		AgentName: ddbItem.AgentName,
		APIKey:    ddbItem.APIKey,
		Model:     ddbItem.Model,
	}, nil
}

// PutSettings replaces the shared settings item.
func (r *ddbRepository) PutSettings(ctx context.Context, settings domain.Settings) error {
	item, err := attributevalue.MarshalMap(ddbSettings{
		PK:        "SETTINGS",
		SK:        skMetadata,
		AgentName: settings.AgentName,
		APIKey:    settings.APIKey,
		Model:     settings.Model,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal settings item")
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to put settings item")
	}
	return nil
}

func unmarshalBoard(ddbItem ddbBoard) domain.Board {
	createdAt, _ := time.Parse(time.RFC3339Nano, ddbItem.CreatedAt)
	return domain.Board{
		ID:        ddbItem.BoardID,
		Name:      ddbItem.Name,
		Slug:      ddbItem.Slug,
		ProjectID: ddbItem.ProjectID,
		Viewport:  ddbItem.Viewport,
		CreatedAt: createdAt,
	}
}

func unmarshalProject(ddbItem ddbProject) domain.Project {
	createdAt, _ := time.Parse(time.RFC3339Nano, ddbItem.CreatedAt)
	return domain.Project{
		ID:        ddbItem.ProjectID,
		Name:      ddbItem.Name,
		CreatedAt: createdAt,
	}
}
