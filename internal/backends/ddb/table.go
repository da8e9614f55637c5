package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const SList = "LIST"

func pkList(id string) string { return fmt.Sprintf("%s#%s", SList, id) }
func skItems() string         { return "ITEMS" }

func itoa(i int64) string { return strconv.FormatInt(i, 10) }

func awsString(s string) *string         { return &s }
func awsBool(b bool) *bool               { return &b }
func errorAs(err error, target any) bool { return errors.As(err, target) }

func createTableIfNotExists(client *dynamodb.Client, table string) {
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		log.Fatalf("Failed to create table %s: %v", table, err)
	}
}
