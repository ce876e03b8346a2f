// Package ddb implements the repository interface using AWS DynamoDB.
// This is the only layer that should have knowledge of DynamoDB specifics.
//
// Single-table layout, one partition per board:
//
//	PK=BOARD#<boardID>  SK=METADATA             board record
//	PK=BOARD#<boardID>  SK=NODE#<nodeID>        node record
//	PK=BOARD#<boardID>  SK=EDGE#<edgeID>        edge record
//	PK=BOARD#<boardID>  SK=CTX#<nodeID>#<ts>#<entryID>  context entry
//	PK=SLUG#<slug>      SK=METADATA             slug uniqueness record
//	PK=PROJECT#<id>     SK=METADATA             project record
//	PK=SETTINGS         SK=METADATA             shared settings
//
// GSI1 resolves ids to boards (GSI1PK=NODE#<id> / EDGE#<id>) and groups
// boards under projects (GSI1PK=PROJECT#<projectID>).
package ddb

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	skMetadata = "METADATA"

	nodePrefix = "NODE#"
	edgePrefix = "EDGE#"
	ctxPrefix  = "CTX#"
)

// DynamoDB caps a single transaction at 100 items.
const maxTransactItems = 100

// ctxTimeLayout is fixed-width so context sort keys order lexicographically
// by creation time. time.RFC3339Nano trims trailing zeros, which would sort
// whole seconds after fractional ones.
const ctxTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ddbNode represents the structure of a node item in DynamoDB.
type ddbNode struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GSI1PK    string `dynamodbav:"GSI1PK"`
	GSI1SK    string `dynamodbav:"GSI1SK"`
	NodeID    string `dynamodbav:"NodeID"`
	BoardID   string `dynamodbav:"BoardID"`
	Kind      string `dynamodbav:"Kind"`
	Content   string `dynamodbav:"Content"`
	Context   string `dynamodbav:"Context"`
	ParentID  string `dynamodbav:"ParentID,omitempty"`
	CreatedAt string `dynamodbav:"CreatedAt"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// ddbEdge represents an edge item in DynamoDB.
type ddbEdge struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GSI1PK    string `dynamodbav:"GSI1PK"`
	GSI1SK    string `dynamodbav:"GSI1SK"`
	EdgeID    string `dynamodbav:"EdgeID"`
	BoardID   string `dynamodbav:"BoardID"`
	SourceID  string `dynamodbav:"SourceID"`
	TargetID  string `dynamodbav:"TargetID"`
	Label     string `dynamodbav:"Label,omitempty"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

// ddbContextEntry represents a context entry item in DynamoDB.
type ddbContextEntry struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	EntryID   string `dynamodbav:"EntryID"`
	NodeID    string `dynamodbav:"NodeID"`
	BoardID   string `dynamodbav:"BoardID"`
	Text      string `dynamodbav:"Text"`
	Source    string `dynamodbav:"Source"`
	Embedding []byte `dynamodbav:"Embedding,omitempty"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

// ddbRepository is the concrete implementation for DynamoDB.
type ddbRepository struct {
	dbClient  *dynamodb.Client
	tableName string
	indexName string
}

// NewRepository creates a new instance of the DynamoDB repository.
func NewRepository(dbClient *dynamodb.Client, tableName, indexName string) repository.Repository {
	return &ddbRepository{
		dbClient:  dbClient,
		tableName: tableName,
		indexName: indexName,
	}
}

func boardPK(boardID string) string { return "BOARD#" + boardID }

func projectPK(projectID string) string { return "PROJECT#" + projectID }

func slugPK(slug string) string { return "SLUG#" + slug }

// contextSortKey keys a node's context entries by creation time, with the
// entry id as a tiebreak for identical timestamps, so a key-ordered query
// returns them in append order.
func contextSortKey(nodeID string, createdAt time.Time, entryID string) string {
	return ctxPrefix + nodeID + "#" + createdAt.UTC().Format(ctxTimeLayout) + "#" + entryID
}

func metaKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: skMetadata},
	}
}

// CreateNode stores a node record under its board partition.
func (r *ddbRepository) CreateNode(ctx context.Context, node domain.Node) error {
	item, err := marshalNode(node)
	if err != nil {
		return err
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to put node item")
	}
	return nil
}

// FindNodeByID resolves a node through the lookup index, then reads it.
func (r *ddbRepository) FindNodeByID(ctx context.Context, nodeID string) (*domain.Node, error) {
	item, err := r.lookupByGSI(ctx, nodePrefix+nodeID)
	if err != nil || item == nil {
		return nil, err
	}
	return unmarshalNode(item)
}

// UpdateNode replaces the stored node record (idempotent replace semantics).
func (r *ddbRepository) UpdateNode(ctx context.Context, node domain.Node) error {
	item, err := marshalNode(node)
	if err != nil {
		return err
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return appErrors.NewNotFound("node not found")
		}
		return appErrors.Wrap(err, "failed to update node item")
	}
	return nil
}

// DeleteNode transactionally removes a node, every edge referencing it,
// and all of its context entries.
func (r *ddbRepository) DeleteNode(ctx context.Context, boardID, nodeID string) error {
	keys := []map[string]types.AttributeValue{{
		"PK": &types.AttributeValueMemberS{Value: boardPK(boardID)},
		"SK": &types.AttributeValueMemberS{Value: nodePrefix + nodeID},
	}}

	edges, err := r.queryBoardEdges(ctx, boardID)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if edge.SourceID == nodeID || edge.TargetID == nodeID {
			keys = append(keys, map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: boardPK(boardID)},
				"SK": &types.AttributeValueMemberS{Value: edgePrefix + edge.ID},
			})
		}
	}

	ctxKeys, err := r.queryKeysByPrefix(ctx, boardPK(boardID), ctxPrefix+nodeID+"#")
	if err != nil {
		return err
	}
	keys = append(keys, ctxKeys...)

	if err := r.transactDelete(ctx, keys); err != nil {
		return appErrors.Wrap(err, "transaction to delete node cascade failed")
	}
	return nil
}

// CreateEdge stores an edge record under its board partition.
func (r *ddbRepository) CreateEdge(ctx context.Context, edge domain.Edge) error {
	item, err := attributevalue.MarshalMap(marshalEdge(edge))
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal edge item")
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to put edge item")
	}
	return nil
}

// FindEdgeByID resolves an edge through the lookup index, then reads it.
func (r *ddbRepository) FindEdgeByID(ctx context.Context, edgeID string) (*domain.Edge, error) {
	item, err := r.lookupByGSI(ctx, edgePrefix+edgeID)
	if err != nil || item == nil {
		return nil, err
	}
	var ddbItem ddbEdge
	if err := attributevalue.UnmarshalMap(item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal edge item")
	}
	edge := unmarshalEdge(ddbItem)
	return &edge, nil
}

// UpdateEdge replaces the stored edge record.
func (r *ddbRepository) UpdateEdge(ctx context.Context, edge domain.Edge) error {
	item, err := attributevalue.MarshalMap(marshalEdge(edge))
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal edge item")
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return appErrors.NewNotFound("edge not found")
		}
		return appErrors.Wrap(err, "failed to update edge item")
	}
	return nil
}

// DeleteEdge removes a single edge record.
func (r *ddbRepository) DeleteEdge(ctx context.Context, boardID, edgeID string) error {
	_, err := r.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: boardPK(boardID)},
			"SK": &types.AttributeValueMemberS{Value: edgePrefix + edgeID},
		},
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to delete edge item")
	}
	return nil
}

// AddContextEntry appends a context entry item; entries are never updated.
func (r *ddbRepository) AddContextEntry(ctx context.Context, entry domain.ContextEntry) error {
	item, err := attributevalue.MarshalMap(ddbContextEntry{
		PK:        boardPK(entry.BoardID),
		SK:        contextSortKey(entry.NodeID, entry.CreatedAt, entry.ID),
		EntryID:   entry.ID,
		NodeID:    entry.NodeID,
		BoardID:   entry.BoardID,
		Text:      entry.Text,
		Source:    string(entry.Source),
		Embedding: entry.Embedding,
		CreatedAt: entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal context entry item")
	}
	_, err = r.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return appErrors.Wrap(err, "failed to put context entry item")
	}
	return nil
}

// FindContextEntries returns a node's context entries in append order.
func (r *ddbRepository) FindContextEntries(ctx context.Context, boardID, nodeID string) ([]domain.ContextEntry, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(boardPK(boardID))).
		And(expression.Key("SK").BeginsWith(ctxPrefix + nodeID + "#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build context query expression")
	}

	result, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query context entries")
	}

	var entries []domain.ContextEntry
	for _, item := range result.Items {
		var ddbItem ddbContextEntry
		if err := attributevalue.UnmarshalMap(item, &ddbItem); err != nil {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, ddbItem.CreatedAt)
		entries = append(entries, domain.ContextEntry{
			ID:        ddbItem.EntryID,
			NodeID:    ddbItem.NodeID,
			BoardID:   ddbItem.BoardID,
			Text:      ddbItem.Text,
			Source:    domain.ContextSource(ddbItem.Source),
			Embedding: ddbItem.Embedding,
			CreatedAt: createdAt,
		})
	}
	return entries, nil
}

// GetGraphData retrieves all nodes and edges for a board in one query.
func (r *ddbRepository) GetGraphData(ctx context.Context, boardID string) (*domain.Graph, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(boardPK(boardID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build graph query expression")
	}

	graph := &domain.Graph{Nodes: []domain.Node{}, Edges: []domain.Edge{}}

	paginator := dynamodb.NewQueryPaginator(r.dbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to query graph data page")
		}
		for _, item := range page.Items {
			skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			switch {
			case strings.HasPrefix(skAttr.Value, nodePrefix):
				node, err := unmarshalNode(item)
				if err != nil {
					continue
				}
				graph.Nodes = append(graph.Nodes, *node)
			case strings.HasPrefix(skAttr.Value, edgePrefix):
				var ddbItem ddbEdge
				if err := attributevalue.UnmarshalMap(item, &ddbItem); err == nil {
					graph.Edges = append(graph.Edges, unmarshalEdge(ddbItem))
				}
			}
		}
	}
	return graph, nil
}

// lookupByGSI resolves a single item by its GSI1PK value.
func (r *ddbRepository) lookupByGSI(ctx context.Context, gsi1pk string) (map[string]types.AttributeValue, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(gsi1pk))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build lookup expression")
	}
	result, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query lookup index")
	}
	if len(result.Items) == 0 {
		return nil, nil // Not found
	}
	return result.Items[0], nil
}

// queryBoardEdges returns all edges stored under a board partition.
func (r *ddbRepository) queryBoardEdges(ctx context.Context, boardID string) ([]domain.Edge, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(boardPK(boardID))).
		And(expression.Key("SK").BeginsWith(edgePrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build edge query expression")
	}
	result, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query board edges")
	}
	var edges []domain.Edge
	for _, item := range result.Items {
		var ddbItem ddbEdge
		if err := attributevalue.UnmarshalMap(item, &ddbItem); err == nil {
			edges = append(edges, unmarshalEdge(ddbItem))
		}
	}
	return edges, nil
}

// queryKeysByPrefix returns the primary keys of all items under pk whose
// sort key starts with prefix.
func (r *ddbRepository) queryKeysByPrefix(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(pk))
	if prefix != "" {
		keyCond = keyCond.And(expression.Key("SK").BeginsWith(prefix))
	}
	proj := expression.NamesList(expression.Name("PK"), expression.Name("SK"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(proj).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build key query expression")
	}

	var keys []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(r.dbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ProjectionExpression:      expr.Projection(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to query keys page")
		}
		for _, item := range page.Items {
			keys = append(keys, map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			})
		}
	}
	return keys, nil
}

// transactDelete removes the given keys synchronously. Each batch of up to
// maxTransactItems keys is atomic; cascades larger than one batch span
// multiple transactions.
func (r *ddbRepository) transactDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += maxTransactItems {
		end := start + maxTransactItems
		if end > len(keys) {
			end = len(keys)
		}
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, key := range keys[start:end] {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{TableName: aws.String(r.tableName), Key: key},
			})
		}
		if _, err := r.dbClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		}); err != nil {
			return err
		}
	}
	return nil
}

func marshalNode(node domain.Node) (map[string]types.AttributeValue, error) {
	content, err := json.Marshal(node.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to encode node content")
	}
	item, err := attributevalue.MarshalMap(ddbNode{
		PK:        boardPK(node.BoardID),
		SK:        nodePrefix + node.ID,
		GSI1PK:    nodePrefix + node.ID,
		GSI1SK:    boardPK(node.BoardID),
		NodeID:    node.ID,
		BoardID:   node.BoardID,
		Kind:      string(node.Kind),
		Content:   string(content),
		Context:   node.Context,
		ParentID:  node.ParentID,
		CreatedAt: node.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: node.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to marshal node item")
	}
	return item, nil
}

func unmarshalNode(item map[string]types.AttributeValue) (*domain.Node, error) {
	var ddbItem ddbNode
	if err := attributevalue.UnmarshalMap(item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal node item")
	}
	var content domain.Content
	if ddbItem.Content != "" {
		if err := json.Unmarshal([]byte(ddbItem.Content), &content); err != nil {
			return nil, appErrors.Wrap(err, "failed to decode node content")
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ddbItem.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, ddbItem.UpdatedAt)
	return &domain.Node{
		ID:        ddbItem.NodeID,
		BoardID:   ddbItem.BoardID,
		Kind:      domain.NodeKind(ddbItem.Kind),
		Content:   content,
		Context:   ddbItem.Context,
		ParentID:  ddbItem.ParentID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func marshalEdge(edge domain.Edge) ddbEdge {
	return ddbEdge{
		PK:        boardPK(edge.BoardID),
		SK:        edgePrefix + edge.ID,
		GSI1PK:    edgePrefix + edge.ID,
		GSI1SK:    boardPK(edge.BoardID),
		EdgeID:    edge.ID,
		BoardID:   edge.BoardID,
		SourceID:  edge.SourceID,
		TargetID:  edge.TargetID,
		Label:     edge.Label,
		CreatedAt: edge.CreatedAt.Format(time.RFC3339Nano),
	}
}

func unmarshalEdge(ddbItem ddbEdge) domain.Edge {
	createdAt, _ := time.Parse(time.RFC3339Nano, ddbItem.CreatedAt)
	return domain.Edge{
		ID:        ddbItem.EdgeID,
		BoardID:   ddbItem.BoardID,
		SourceID:  ddbItem.SourceID,
		TargetID:  ddbItem.TargetID,
		Label:     ddbItem.Label,
		CreatedAt: createdAt,
	}
}
