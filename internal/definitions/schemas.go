package definitions

// JSON schemas for the four definition documents. YAML documents are
// normalized to the same shape before validation.

const structsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "array",
    "items": {
      "type": "object",
      "required": ["name"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "length": {"type": "integer", "minimum": 0},
        "encoding": {"type": "string"}
      }
    }
  }
}`

const typedefsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {"type": "string", "minLength": 1}
}`

const protoStructsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "CTOS": {"$ref": "#/definitions/bindings"},
    "STOC": {"$ref": "#/definitions/bindings"}
  },
  "definitions": {
    "bindings": {
      "type": "object",
      "propertyNames": {"pattern": "^[A-Z_]+$"},
      "additionalProperties": {"type": "string", "minLength": 1}
    }
  }
}`

const constantsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["CTOS", "STOC"],
  "properties": {
    "CTOS": {"$ref": "#/definitions/protos"},
    "STOC": {"$ref": "#/definitions/protos"}
  },
  "definitions": {
    "protos": {
      "type": "object",
      "propertyNames": {"pattern": "^[0-9]{1,3}$"},
      "additionalProperties": {"type": "string", "pattern": "^[A-Za-z_]+$"}
    }
  }
}`
