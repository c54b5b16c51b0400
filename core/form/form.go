/*
Package form validates and cleans request payloads of entities.

A form exists for every entity and action. Forms are resolved through the
registry with

	f, err := forms.Form(entity, form.Create)

Cleaning a payload checks the structure against a JSON schema generated from
the entity, then converts every value into its canonical type and checks
choices, relations and unique fields. All problems of all fields are
reported at once as a core.ErrValidation error.

The user entity has its own form: the password is required on create and is
stored as bcrypt hash.
*/
package form

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// Action is the kind of write a form validates
type Action int

// all actions
const (
	Create Action = iota
	Update
	PartialUpdate
)

func (a Action) String() string {
	switch a {
	case Create:
		return "create"
	case Update:
		return "update"
	case PartialUpdate:
		return "partial_update"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// PasswordField is the field of the user entity which holds the password hash
const PasswordField = "password"

// PasswordHasher hashes a clear text password
type PasswordHasher func(password string) (string, error)

// BcryptHasher returns a hasher using bcrypt with the given cost
func BcryptHasher(cost int) PasswordHasher {
	return func(password string) (string, error) {
		b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		return string(b), err
	}
}

// CheckPassword returns true if password matches the stored hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Form validates the payload of one entity for one action
type Form struct {
	Entity *schema.Entity
	Action Action

	user      bool
	structure *gojsonschema.Schema
	custom    *Validator
	hash      PasswordHasher
	now       func() time.Time
}

type formKey struct {
	entity string
	action Action
}

// Registry holds the forms of all entities of a schema graph
type Registry struct {
	forms map[formKey]*Form
}

// Options configure a form registry. All fields are optional.
type Options struct {
	// Custom validates entities which have a schema_id
	Custom *Validator
	// Hasher hashes user passwords. Defaults to bcrypt with default cost.
	Hasher PasswordHasher
	// Now returns the time for automatic timestamps. Defaults to time.Now.
	Now func() time.Time
}

// resolvers resolve the form of an entity for each action
var resolvers = [...]func(r *Registry, e *schema.Entity, user bool, o Options) (*Form, error){
	Create:        createForm,
	Update:        updateForm,
	PartialUpdate: partialUpdateForm,
}

func createForm(r *Registry, e *schema.Entity, user bool, o Options) (*Form, error) {
	return newForm(e, Create, user, o)
}

func updateForm(r *Registry, e *schema.Entity, user bool, o Options) (*Form, error) {
	return newForm(e, Update, user, o)
}

func partialUpdateForm(r *Registry, e *schema.Entity, user bool, o Options) (*Form, error) {
	return newForm(e, PartialUpdate, user, o)
}

// NewRegistry creates the forms of all entities of graph
func NewRegistry(graph *schema.Graph, o Options) (*Registry, error) {
	if o.Hasher == nil {
		o.Hasher = BcryptHasher(bcrypt.DefaultCost)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	r := &Registry{forms: map[formKey]*Form{}}
	for _, e := range graph.Entities() {
		if e.SchemaID != "" && !o.Custom.HasSchema(e.SchemaID) {
			return nil, fmt.Errorf("entity %s: unknown schema %s", e.Key(), e.SchemaID)
		}
		for action, resolve := range resolvers {
			f, err := resolve(r, e, graph.IsUserEntity(e), o)
			if err != nil {
				return nil, fmt.Errorf("cannot create %s form of %s: %w", Action(action), e.Key(), err)
			}
			r.forms[formKey{e.Key(), Action(action)}] = f
		}
	}
	return r, nil
}

// Form returns the form of an entity for an action
func (r *Registry) Form(e *schema.Entity, action Action) (*Form, error) {
	f, ok := r.forms[formKey{e.Key(), action}]
	if !ok {
		return nil, fmt.Errorf("no %s form for %s", action, e.Key())
	}
	return f, nil
}

func newForm(e *schema.Entity, action Action, user bool, o Options) (*Form, error) {
	structure, err := compile(gojsonschema.NewGoLoader(structureSchema(e, action, user)), nil)
	if err != nil {
		return nil, err
	}
	return &Form{
		Entity:    e,
		Action:    action,
		user:      user,
		structure: structure,
		custom:    o.Custom,
		hash:      o.Hasher,
		now:       o.Now,
	}, nil
}

// structureSchema generates the JSON schema of a payload. It checks presence, nullability
// and length. Types are checked by coercion, which accepts more than JSON types.
func structureSchema(e *schema.Entity, action Action, user bool) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []interface{}{}
	for _, f := range e.Fields {
		if f.IsAuto() {
			continue
		}
		property := map[string]interface{}{}
		if f.MaxLength > 0 && (f.Type == schema.TypeString || f.Type == schema.TypeText) {
			property["maxLength"] = f.MaxLength
		}
		if !f.Null {
			property["not"] = map[string]interface{}{"type": "null"}
		}
		properties[f.Name] = property

		switch {
		case action == PartialUpdate:
		case user && action == Create && f.Name == PasswordField:
			required = append(required, f.Name)
		case f.Required && f.Default == nil:
			required = append(required, f.Name)
		}
	}
	s := map[string]interface{}{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Clean validates data and returns the canonical values to store. current is the
// instance being updated and nil on create.
//
// On create the result holds every field. On update it holds the fields present in
// data plus automatic timestamps. Keys which are not fields are ignored.
func (f *Form) Clean(ctx context.Context, r storage.Reader, data map[string]interface{}, current *storage.Instance) (map[string]interface{}, error) {
	e := f.Entity
	document := map[string]interface{}{}
	for _, field := range e.Fields {
		if v, ok := data[field.Name]; ok && !field.IsAuto() {
			if id, isUUID := v.(uuid.UUID); isUUID {
				v = id.String()
			}
			document[field.Name] = v
		}
	}

	fields, err := problems(f.structure, gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string][]string{}
	}
	if e.SchemaID != "" {
		custom, err := f.custom.Validate(document, e.SchemaID)
		if err != nil {
			return nil, err
		}
		for name, messages := range custom {
			fields[name] = append(fields[name], messages...)
		}
	}

	now := f.now().UTC()
	cleaned := map[string]interface{}{}
	for _, field := range e.Fields {
		if field.IsAuto() {
			if field.AutoNow || f.Action == Create {
				cleaned[field.Name] = now
			}
			continue
		}
		raw, present := data[field.Name]
		if !present {
			if f.Action != Create {
				continue
			}
			raw = field.Default
		}
		if len(fields[field.Name]) > 0 {
			continue
		}
		v, problem, err := f.cleanValue(ctx, r, field, raw, current)
		if err != nil {
			return nil, err
		}
		if problem != "" {
			fields[field.Name] = append(fields[field.Name], problem)
			continue
		}
		cleaned[field.Name] = v
	}

	if len(fields) > 0 {
		verr := core.NewError(core.CodeValidation, "invalid data for %s", e.Title())
		for name, messages := range fields {
			for _, m := range messages {
				verr.AddField(name, m)
			}
		}
		return nil, verr
	}
	return cleaned, nil
}

// cleanValue converts one value. A problem with the value is returned as message,
// err is reserved for storage failures.
func (f *Form) cleanValue(ctx context.Context, r storage.Reader, field *schema.Field, raw interface{},
	current *storage.Instance) (interface{}, string, error) {

	v, err := field.Coerce(raw)
	if err != nil {
		return nil, err.Error(), nil
	}
	if v == nil {
		return nil, "", nil
	}

	if len(field.Choices) > 0 && !isChoice(field, v) {
		return nil, fmt.Sprintf("\"%v\" is not a valid choice.", raw), nil
	}

	if field.IsRelation() {
		edge, _ := f.Entity.Forward(field.Name)
		n, err := r.Count(ctx, storage.All(edge.To).ByID(v.(uuid.UUID)))
		if err != nil {
			return nil, "", err
		}
		if n == 0 {
			return nil, fmt.Sprintf("Invalid pk \"%s\" - object does not exist.", v), nil
		}
	}

	if field.Unique {
		q := storage.All(f.Entity).Filter(storage.Cond{Path: []string{field.Name}, Op: storage.OpEq, Value: v})
		if current != nil {
			q = q.Filter(storage.Cond{Path: []string{schema.IDField.Name}, Op: storage.OpNe, Value: current.ID})
		}
		n, err := r.Count(ctx, q)
		if err != nil {
			return nil, "", err
		}
		if n > 0 {
			return nil, fmt.Sprintf("%s with this %s already exists.", f.Entity.Title(), field.Title()), nil
		}
	}

	if f.user && field.Name == PasswordField {
		password, _ := v.(string)
		if password == "" {
			return nil, "This field may not be blank.", nil
		}
		hashed, err := f.hash(password)
		if err != nil {
			return nil, "", fmt.Errorf("cannot hash password: %w", err)
		}
		return hashed, "", nil
	}
	return v, "", nil
}

func isChoice(field *schema.Field, v interface{}) bool {
	for _, choice := range field.Choices {
		if c, err := field.Coerce(choice); err == nil && c == v {
			return true
		}
	}
	return false
}
