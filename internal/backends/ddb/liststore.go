package ddb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"listsync/internal/ports"
	"listsync/internal/types"
)

const casRetries = 5

// ListStore keeps one row per list: the items as a JSON string attribute plus
// a version counter. Creates use attribute_not_exists, updates a conditional
// version bump, so single-list mutations stay linearizable.
type ListStore struct {
	table string
	cli   *dynamodb.Client
}

type listRow struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	ID      string `dynamodbav:"id"`
	Items   string `dynamodbav:"items"`
	Version int64  `dynamodbav:"ver"`
}

var _ ports.ListStore = (*ListStore)(nil)

func NewListStore(table string, cli *dynamodb.Client) *ListStore {
	createTableIfNotExists(cli, table)
	return &ListStore{table: table, cli: cli}
}

// load returns the items and version for listID. A missing row is
// (nil, 0, nil), matching the lazy-creation contract.
func (s *ListStore) load(ctx context.Context, listID string) ([]types.Item, int64, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkList(listID)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skItems()},
		},
	})
	if err != nil {
		return nil, 0, types.Err(types.ErrStoreAccess, err, "")
	}
	if out.Item == nil {
		return nil, 0, nil
	}
	var row listRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, 0, err
	}
	var items []types.Item
	if row.Items != "" {
		if err := json.Unmarshal([]byte(row.Items), &items); err != nil {
			return nil, 0, err
		}
	}
	return items, row.Version, nil
}

// casPut writes items only if the stored version still equals prevVersion
// (0 means the row must not exist). Returns false on a version miss.
func (s *ListStore) casPut(ctx context.Context, listID string, prevVersion int64, items []types.Item) (bool, error) {
	marshaled, err := json.Marshal(items)
	if err != nil {
		return false, err
	}

	if prevVersion == 0 {
		av, _ := attributevalue.MarshalMap(listRow{
			PK:      pkList(listID),
			SK:      skItems(),
			ID:      listID,
			Items:   string(marshaled),
			Version: 1,
		})
		_, err := s.cli.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           &s.table,
			Item:                av,
			ConditionExpression: awsString("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if err != nil {
			var cc *ddbTypes.ConditionalCheckFailedException
			if errorAs(err, &cc) {
				return false, nil
			}
			return false, types.Err(types.ErrStoreAccess, err, "")
		}
		return true, nil
	}

	_, err = s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkList(listID)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skItems()},
		},
		UpdateExpression: awsString("SET #items=:items, #ver=:newver"),
		ExpressionAttributeNames: map[string]string{
			"#items": "items",
			"#ver":   "ver",
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":items":  &ddbTypes.AttributeValueMemberS{Value: string(marshaled)},
			":newver": &ddbTypes.AttributeValueMemberN{Value: itoa(prevVersion + 1)},
			":prev":   &ddbTypes.AttributeValueMemberN{Value: itoa(prevVersion)},
		},
		ConditionExpression: awsString("#ver = :prev"),
	})
	if err != nil {
		var cc *ddbTypes.ConditionalCheckFailedException
		if errorAs(err, &cc) {
			return false, nil
		}
		return false, types.Err(types.ErrStoreAccess, err, "")
	}
	return true, nil
}

func (s *ListStore) mutate(ctx context.Context, listID string, lazyCreate bool, fn func(items []types.Item) ([]types.Item, error)) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		items, ver, err := s.load(ctx, listID)
		if err != nil {
			return err
		}
		if ver == 0 && !lazyCreate {
			return types.Err(types.ErrNotFound, nil, "list %q", listID)
		}
		next, err := fn(items)
		if err != nil {
			return err
		}
		ok, err := s.casPut(ctx, listID, ver, next)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return types.Err(types.ErrStoreAccess, nil, "list %q: too many concurrent writers", listID)
}

func (s *ListStore) GetOrCreate(ctx context.Context, listID string) (types.List, error) {
	items, ver, err := s.load(ctx, listID)
	if err != nil {
		return types.List{}, err
	}
	if ver == 0 {
		if _, err := s.casPut(ctx, listID, 0, []types.Item{}); err != nil {
			return types.List{}, err
		}
		items = nil
	}
	if items == nil {
		items = []types.Item{}
	}
	return types.List{ID: listID, Items: items}, nil
}

func (s *ListStore) InsertItem(ctx context.Context, listID, label, addedBy string) (types.Item, error) {
	label, ok := types.TrimmedNonBlank(label)
	if !ok {
		return types.Item{}, types.Err(types.ErrValidation, nil, "label is required")
	}
	addedBy, _ = types.TrimmedNonBlank(addedBy)
	item := types.Item{
		ID:      uuid.NewString(),
		Label:   label,
		AddedBy: addedBy,
		Status:  types.StatusPending,
	}
	err := s.mutate(ctx, listID, true, func(items []types.Item) ([]types.Item, error) {
		return append(items, item), nil
	})
	if err != nil {
		return types.Item{}, err
	}
	return item, nil
}

func (s *ListStore) FindItem(ctx context.Context, listID, itemID string) (types.Item, error) {
	items, ver, err := s.load(ctx, listID)
	if err != nil {
		return types.Item{}, err
	}
	if ver == 0 {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "list %q", listID)
	}
	for _, it := range items {
		if it.ID == itemID {
			return it, nil
		}
	}
	return types.Item{}, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
}

func (s *ListStore) UpdateItem(ctx context.Context, listID, itemID string, patch types.ItemPatch) (types.Item, error) {
	var updated types.Item
	err := s.mutate(ctx, listID, false, func(items []types.Item) ([]types.Item, error) {
		for i := range items {
			if items[i].ID == itemID {
				next, err := types.ApplyPatch(items[i], patch)
				if err != nil {
					return nil, err
				}
				items[i] = next
				updated = next
				return items, nil
			}
		}
		return nil, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	})
	if err != nil {
		return types.Item{}, err
	}
	return updated, nil
}

func (s *ListStore) DeleteItem(ctx context.Context, listID, itemID string) (types.Item, error) {
	var prior types.Item
	err := s.mutate(ctx, listID, false, func(items []types.Item) ([]types.Item, error) {
		for i := range items {
			if items[i].ID == itemID {
				prior = items[i]
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	})
	if err != nil {
		return types.Item{}, err
	}
	return prior, nil
}

func (s *ListStore) ClearAll(ctx context.Context) error {
	out, err := s.cli.Scan(ctx, &dynamodb.ScanInput{
		TableName:            &s.table,
		ProjectionExpression: awsString("PK, SK"),
	})
	if err != nil {
		return err
	}
	for _, item := range out.Items {
		if _, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.table,
			Key:       map[string]ddbTypes.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
		}); err != nil {
			return err
		}
	}
	return nil
}
