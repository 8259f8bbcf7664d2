package report

// JSONSchema describes the report document accepted by Parse. It mirrors
// the schemas emitted alongside geodiff reports so producers can validate
// output before handing it to the replay step.
const JSONSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "GeodiffReport",
  "type": "object",
  "required": ["changes"],
  "properties": {
    "generated_at": {
      "type": "string",
      "format": "date-time"
    },
    "source": {
      "type": "string"
    },
    "changes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op", "key"],
        "properties": {
          "op": {
            "type": "string",
            "enum": ["insert", "update", "delete"]
          },
          "key": {
            "type": "string",
            "minLength": 1
          },
          "fields": {
            "type": "object"
          },
          "previous_fields": {
            "type": "object"
          }
        }
      }
    }
  }
}
`
