/*
Package backend implements the configurable backend

A backend serves a RESTful-API for a set of entities which are described entirely in
JSON. There is no code per entity: every request names its entity in the path, and
the backend resolves it against the schema at request time.

Configuration

The configuration consists of the active apps, the entities with their fields and
optional admin hints, and paging limits.

Example:
  {
	"apps": ["auth", "blog"],
	"user_entity": "auth.user",
	"entities": [
	  {
		"app": "auth",
		"name": "user",
		"fields": [
		  {"name": "username", "type": "string", "required": true, "unique": true}
		]
	  },
	  {
		"app": "blog",
		"name": "post",
		"fields": [
		  {"name": "title", "type": "string", "required": true},
		  {"name": "author", "type": "relation", "target": "auth.user", "related_name": "posts"}
		],
		"admin": {
		  "auth_filter_field": "author",
		  "detail_expand_fields": ["author"]
		}
	  }
	],
	"page_size": 20
  }

The example creates users and blog posts. Posts are scoped to their author: users
without admin privilege only see their own posts, and posts they create are
stamped with their user id.

Every entity is served under the ends "manage" and "client":

	GET    /{end}/{app}/{model}/              list
	POST   /{end}/{app}/{model}/list/         list with filter body
	POST   /{end}/{app}/{model}/              create
	GET    /{end}/{app}/{model}/{id}/         detail
	PUT    /{end}/{app}/{model}/{id}/         update
	PATCH  /{end}/{app}/{model}/{id}/         partial update
	DELETE /{end}/{app}/{model}/{id}/         destroy
	POST   /{end}/{app}/{model}/batch/        batch action
	GET    /{end}/{app}/{model}/export/file/  export

The trailing slash is optional.

Responses

All entity routes answer with an envelope:

	{"error_code": "0", "error_message": "", "result": ...}

Failures carry a stable error code, a message and field level problems:

	{"error_code": "VALIDATION_ERROR", "error_message": "...", "error_data": {"title": ["This field is required."]}}

Lists return one page of results:

	{"count": 42, "page_size": 20, "next": "/manage/blog/post/?page=2", "previous": null, "results": [...]}

Queries

Lists accept the query parameters expand_fields (comma separated dot paths),
data_with_tree, order_by_fields, page and page_size. The POST variant takes a body
with the keys expand_fields, filter_conditions, order_by_fields and data_with_tree:

	{
	  "filter_conditions": [{"field": "status", "operator": "eq", "value": "draft"}],
	  "order_by_fields": ["-created_at"],
	  "expand_fields": ["author.profile"]
	}

Supported operators are eq, ne, gt, gte, lt, lte, in, not_in, contains, icontains,
startswith, endswith, isnull and range. Fields of related entities are addressed
with dot or double underscore paths, for example "author.username".

Writes

Create and update bodies may carry nested objects for relation fields, which are
created or updated first, and lists of children under the related names of reverse
relations, which are attached after the instance has been written. All of it
happens in one transaction. Committed writes are published on the notification bus
in a second transaction, see package notify.

Batch and export

A batch request runs a registered action on a list of ids:

	{"action": "delete", "data": ["<id>", "<id>"]}

Exports render all visible instances as CSV or Excel, selected with the fileformat
parameter. Unknown formats fall back to CSV. With delivery=link the file is stored
in the export archive and the result holds a download link.
*/
package backend
