package prompt

const SchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["total_marks", "sections"],
  "properties": {
    "total_marks": {"type": "number", "minimum": 0},
    "instructions": {"type": "string"},
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["section_name", "questions"],
        "properties": {
          "section_name": {"type": "string"},
          "total_marks": {"type": "number", "minimum": 0},
          "questions": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["question_number", "marks"],
              "properties": {
                "question_number": {"type": ["string", "number"]},
                "marks": {"type": "number", "minimum": 0},
                "type": {"type": "string"},
                "question_text": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

const EvaluationJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["evaluations"],
  "properties": {
    "evaluations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["question_number", "max_marks", "marks_awarded", "feedback"],
        "properties": {
          "question_number": {"type": ["string", "number"]},
          "max_marks": {"type": "number", "minimum": 0},
          "marks_awarded": {"type": "number"},
          "feedback": {"type": "string"},
          "key_points_covered": {"type": "array", "items": {"type": "string"}},
          "key_points_missed": {"type": "array", "items": {"type": "string"}},
          "accuracy_rating": {"type": "string"}
        }
      }
    },
    "total_marks_obtained": {"type": "number"},
    "total_marks_possible": {"type": "number"}
  }
}`
