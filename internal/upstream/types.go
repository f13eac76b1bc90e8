package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Attribute describes one column of a model.
type Attribute struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	AllowNull    bool   `json:"allowNull"`
	PrimaryKey   bool   `json:"primaryKey"`
	DefaultValue any    `json:"defaultValue,omitempty"`
}

// AttributeList accepts either a JSON array of attributes or an object keyed by attribute name.
type AttributeList []Attribute

func (l *AttributeList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		var attributes []Attribute
		if err := json.Unmarshal(trimmed, &attributes); err != nil {
			return err
		}
		*l = attributes
		return nil
	}

	var keyed map[string]Attribute
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return err
	}
	attributes := make([]Attribute, 0, len(keyed))
	for name, attribute := range keyed {
		if attribute.Name == "" {
			attribute.Name = name
		}
		attributes = append(attributes, attribute)
	}
	sort.Slice(attributes, func(i, j int) bool {
		if attributes[i].PrimaryKey != attributes[j].PrimaryKey {
			return attributes[i].PrimaryKey
		}
		return attributes[i].Name < attributes[j].Name
	})
	*l = attributes
	return nil
}

// Association describes a relation between two models.
type Association struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Target     string `json:"target"`
	ForeignKey string `json:"foreignKey,omitempty"`
}

// Model is the raw model descriptor returned by a backend listing.
type Model struct {
	Name         string        `json:"name"`
	TableName    string        `json:"tableName"`
	DisplayName  string        `json:"displayName"`
	PrimaryKey   string        `json:"primaryKey"`
	Attributes   AttributeList `json:"attributes"`
	Associations []Association `json:"associations"`
}

// Schema is the attribute and association metadata of one model.
type Schema struct {
	Name         string        `json:"name"`
	TableName    string        `json:"tableName"`
	PrimaryKey   string        `json:"primaryKey"`
	Attributes   AttributeList `json:"attributes"`
	Associations []Association `json:"associations"`
}

// Pagination echoes the paging state of a record page.
type Pagination struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// RecordPage is one page of records.
type RecordPage struct {
	Records    []map[string]any `json:"records"`
	Pagination Pagination       `json:"pagination"`
}

// FlexibleID holds identifiers that backends send either as numbers or strings.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*id = FlexibleID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = FlexibleID(number.String())
	return nil
}

// AuthUser is the user object returned by the auth endpoints.
type AuthUser struct {
	ID        FlexibleID `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Role      string     `json:"role"`
}

// DisplayName prefers the explicit name and falls back to first and last name, then the email.
func (u AuthUser) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName)); name != "" {
		return name
	}
	return strings.TrimSpace(u.Email)
}

// LoginResult carries the upstream bearer token and user.
type LoginResult struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	User         AuthUser `json:"user"`
}

var errMissingField = errors.New("missing field")

// unwrapEnvelope strips the {"success":..,"data":..} envelope when present.
func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, errors.New("body is not valid JSON")
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if data, ok := envelope["data"]; ok && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return data, nil
	}
	return trimmed, nil
}

func decodeModels(body []byte) ([]Model, error) {
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	if payload[0] == '{' {
		var wrapped struct {
			Models json.RawMessage `json:"models"`
			Tables json.RawMessage `json:"tables"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return nil, err
		}
		switch {
		case len(wrapped.Models) > 0:
			payload = wrapped.Models
		case len(wrapped.Tables) > 0:
			payload = wrapped.Tables
		default:
			return nil, fmt.Errorf("models: %w", errMissingField)
		}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	models := make([]Model, 0, len(raw))
	for _, entry := range raw {
		var model Model
		if bytes.HasPrefix(bytes.TrimSpace(entry), []byte(`"`)) {
			if err := json.Unmarshal(entry, &model.Name); err != nil {
				return nil, err
			}
		} else if err := json.Unmarshal(entry, &model); err != nil {
			return nil, err
		}
		if strings.TrimSpace(model.Name) == "" {
			continue
		}
		models = append(models, model)
	}
	return models, nil
}

func decodeRecordPage(body []byte, query RecordQuery) (RecordPage, error) {
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return RecordPage{}, err
	}

	var page RecordPage
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &page.Records); err != nil {
			return RecordPage{}, err
		}
	} else {
		var wrapped struct {
			Records    []map[string]any `json:"records"`
			Rows       []map[string]any `json:"rows"`
			Pagination *struct {
				Page       int `json:"page"`
				Size       int `json:"size"`
				Limit      int `json:"limit"`
				Total      int `json:"total"`
				TotalPages int `json:"totalPages"`
			} `json:"pagination"`
			Count *int `json:"count"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return RecordPage{}, err
		}
		page.Records = wrapped.Records
		if page.Records == nil {
			page.Records = wrapped.Rows
		}
		if wrapped.Pagination != nil {
			page.Pagination = Pagination{
				Page:       wrapped.Pagination.Page,
				Size:       wrapped.Pagination.Size,
				Total:      wrapped.Pagination.Total,
				TotalPages: wrapped.Pagination.TotalPages,
			}
			if page.Pagination.Size == 0 {
				page.Pagination.Size = wrapped.Pagination.Limit
			}
		} else if wrapped.Count != nil {
			page.Pagination.Total = *wrapped.Count
		}
	}

	if page.Records == nil {
		page.Records = []map[string]any{}
	}
	page.Pagination = completePagination(page.Pagination, query, len(page.Records))
	return page, nil
}

func completePagination(pagination Pagination, query RecordQuery, received int) Pagination {
	if pagination.Page <= 0 {
		pagination.Page = query.Page
	}
	if pagination.Size <= 0 {
		pagination.Size = query.Size
	}
	if pagination.Total <= 0 {
		pagination.Total = (pagination.Page-1)*pagination.Size + received
	}
	if pagination.TotalPages <= 0 && pagination.Size > 0 {
		pagination.TotalPages = (pagination.Total + pagination.Size - 1) / pagination.Size
	}
	return pagination
}

func decodeSchema(body []byte, name string) (Schema, error) {
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return Schema{}, err
	}
	var schema Schema
	if err := json.Unmarshal(payload, &schema); err != nil {
		return Schema{}, err
	}
	if schema.Name == "" {
		schema.Name = name
	}
	if schema.PrimaryKey == "" {
		for _, attribute := range schema.Attributes {
			if attribute.PrimaryKey {
				schema.PrimaryKey = attribute.Name
				break
			}
		}
	}
	return schema, nil
}

func decodeRecord(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	if payload[0] != '{' {
		return map[string]any{}, nil
	}
	var record map[string]any
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	if nested, ok := record["record"].(map[string]any); ok {
		return nested, nil
	}
	return record, nil
}

func decodeLogin(body []byte) (LoginResult, error) {
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return LoginResult{}, err
	}
	var result LoginResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(result.Token) == "" {
		var alternate struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.Unmarshal(payload, &alternate); err == nil {
			result.Token = alternate.AccessToken
		}
	}
	if strings.TrimSpace(result.Token) == "" {
		return LoginResult{}, fmt.Errorf("token: %w", errMissingField)
	}
	return result, nil
}

func decodeUser(body []byte) (AuthUser, error) {
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return AuthUser{}, err
	}
	var wrapped struct {
		Valid *bool            `json:"valid"`
		User  *json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return AuthUser{}, err
	}
	if wrapped.Valid != nil && !*wrapped.Valid {
		return AuthUser{}, ErrUnauthorized
	}
	if wrapped.User != nil {
		payload = *wrapped.User
	}
	var user AuthUser
	if err := json.Unmarshal(payload, &user); err != nil {
		return AuthUser{}, err
	}
	if user.ID == "" && user.Email == "" {
		return AuthUser{}, fmt.Errorf("user: %w", errMissingField)
	}
	return user, nil
}

func pageParam(value int) string {
	return strconv.Itoa(value)
}
