package codeinterpreter

// SchemaJSON defines the JSON schema for code_interpreter calls.
const SchemaJSON = `{
  "type": "object",
  "properties": {
    "code": {
      "type": "string",
      "description": "Python source to execute in the sandbox."
    },
    "metadata": {
      "type": "object",
      "description": "Opaque execution metadata forwarded to the sandbox as-is.",
      "additionalProperties": true
    }
  },
  "required": ["code"]
}`
