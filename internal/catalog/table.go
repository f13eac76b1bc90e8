package catalog

import (
	"strings"
	"time"
	"unicode"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
)

const defaultPrimaryKey = "id"

// Table is the descriptor of one backend model.
type Table struct {
	Name         string                 `json:"name"`
	TableName    string                 `json:"tableName"`
	DisplayName  string                 `json:"displayName"`
	Backend      string                 `json:"backend"`
	PrimaryKey   string                 `json:"primaryKey"`
	Attributes   []upstream.Attribute   `json:"attributes"`
	Associations []upstream.Association `json:"associations"`
}

// Listing is the cached table list of one backend.
type Listing struct {
	Backend   string    `json:"backend"`
	Tables    []Table   `json:"tables"`
	Fallback  bool      `json:"fallback"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Find locates a table by model name or table name, ignoring case.
func (l Listing) Find(name string) (Table, bool) {
	for _, table := range l.Tables {
		if strings.EqualFold(table.Name, name) || strings.EqualFold(table.TableName, name) {
			return table, true
		}
	}
	return Table{}, false
}

func tableFromModel(backend string, model upstream.Model) Table {
	table := Table{
		Name:         strings.TrimSpace(model.Name),
		TableName:    strings.TrimSpace(model.TableName),
		DisplayName:  strings.TrimSpace(model.DisplayName),
		Backend:      backend,
		PrimaryKey:   strings.TrimSpace(model.PrimaryKey),
		Attributes:   model.Attributes,
		Associations: model.Associations,
	}
	if table.TableName == "" {
		table.TableName = table.Name
	}
	if table.DisplayName == "" {
		table.DisplayName = humanize(table.TableName)
	}
	if table.PrimaryKey == "" {
		table.PrimaryKey = primaryKeyOf(table.Attributes)
	}
	if table.Attributes == nil {
		table.Attributes = []upstream.Attribute{}
	}
	if table.Associations == nil {
		table.Associations = []upstream.Association{}
	}
	return table
}

func primaryKeyOf(attributes []upstream.Attribute) string {
	for _, attribute := range attributes {
		if attribute.PrimaryKey {
			return attribute.Name
		}
	}
	return defaultPrimaryKey
}

// humanize turns user_profiles or userProfiles into "User Profiles".
func humanize(name string) string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	previous := rune(0)
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(previous):
			flush()
			current = append(current, unicode.ToLower(r))
		default:
			current = append(current, unicode.ToLower(r))
		}
		previous = r
	}
	flush()
	for index, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[index] = string(runes)
	}
	return strings.Join(words, " ")
}

func fallbackChatTables() []Table {
	timestamps := []upstream.Attribute{
		{Name: "createdAt", Type: "DATE"},
		{Name: "updatedAt", Type: "DATE"},
	}
	withTimestamps := func(attributes ...upstream.Attribute) []upstream.Attribute {
		return append(attributes, timestamps...)
	}
	return []Table{
		{
			Name:        "conversations",
			TableName:   "conversations",
			DisplayName: "Conversations",
			Backend:     upstream.BackendChat,
			PrimaryKey:  defaultPrimaryKey,
			Attributes: withTimestamps(
				upstream.Attribute{Name: "id", Type: "UUID", PrimaryKey: true},
				upstream.Attribute{Name: "title", Type: "STRING", AllowNull: true},
				upstream.Attribute{Name: "type", Type: "STRING"},
			),
			Associations: []upstream.Association{
				{Name: "messages", Type: "HasMany", Target: "messages", ForeignKey: "conversationId"},
				{Name: "participants", Type: "HasMany", Target: "participants", ForeignKey: "conversationId"},
			},
		},
		{
			Name:        "messages",
			TableName:   "messages",
			DisplayName: "Messages",
			Backend:     upstream.BackendChat,
			PrimaryKey:  defaultPrimaryKey,
			Attributes: withTimestamps(
				upstream.Attribute{Name: "id", Type: "UUID", PrimaryKey: true},
				upstream.Attribute{Name: "conversationId", Type: "UUID"},
				upstream.Attribute{Name: "senderId", Type: "STRING"},
				upstream.Attribute{Name: "content", Type: "TEXT", AllowNull: true},
			),
			Associations: []upstream.Association{
				{Name: "conversation", Type: "BelongsTo", Target: "conversations", ForeignKey: "conversationId"},
			},
		},
		{
			Name:        "participants",
			TableName:   "participants",
			DisplayName: "Participants",
			Backend:     upstream.BackendChat,
			PrimaryKey:  defaultPrimaryKey,
			Attributes: withTimestamps(
				upstream.Attribute{Name: "id", Type: "UUID", PrimaryKey: true},
				upstream.Attribute{Name: "conversationId", Type: "UUID"},
				upstream.Attribute{Name: "userId", Type: "STRING"},
				upstream.Attribute{Name: "role", Type: "STRING", DefaultValue: "member"},
			),
			Associations: []upstream.Association{
				{Name: "conversation", Type: "BelongsTo", Target: "conversations", ForeignKey: "conversationId"},
			},
		},
	}
}
