package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"

	"github.com/zlnvch/webnotes/models"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "USER#u1", userPK("u1"))
	assert.Equal(t, "LOGIN#github#42", loginPK("github", "42"))
	assert.Equal(t, "EMAIL#bob@example.com", emailPK("  Bob@Example.COM "))
	assert.Equal(t, "NOTE#n1", notePK("n1"))
	assert.Equal(t, "SHARE#u2", shareSK("u2"))
}

func TestNoteToDynamo_Visibility(t *testing.T) {
	public := noteToDynamo(models.Note{Id: "n1", IsPublic: true, Content: "Hello World"})
	assert.Equal(t, visibilityPublic, public.Visibility)
	assert.Equal(t, "hello world", public.SearchText)

	private := noteToDynamo(models.Note{Id: "n2"})
	assert.Empty(t, private.Visibility)
	assert.Equal(t, noteSK, private.SK)

	assert.Equal(t, models.Note{Id: "n1", IsPublic: true, Content: "Hello World"}, noteFromDynamo(public))
}

func TestUpdateBuilder(t *testing.T) {
	b := newUpdateBuilder()
	b.set("Title", stringValue("t"))
	b.setIfNotExists("Created", numberValue(5))
	b.remove("Visibility")
	b.value(":editor", stringValue("u1"))

	assert.Equal(t, "SET #Title = :Title, #Created = if_not_exists(#Created, :Created) REMOVE #Visibility", b.expression())
	assert.Equal(t, map[string]string{"#Title": "Title", "#Created": "Created", "#Visibility": "Visibility"}, b.names)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "u1"}, b.values[":editor"])
	assert.Len(t, b.values, 3)
}

func TestUpdateBuilder_Empty(t *testing.T) {
	assert.Empty(t, newUpdateBuilder().expression())
}
