package planner

// decompositionPrompt asks the backend to split an ambiguous request.
// Arguments: capability list, request.
const decompositionPrompt = `Break this user request into the smallest set of sub-tasks a team of specialist agents can answer.

Available capabilities: %s

User request:
%s

Return ONLY a JSON array with this exact structure (no other text):
[
  {
    "id": "task-1",
    "capability": "one of the available capabilities",
    "query": "the part of the request this task answers",
    "depends_on": ["ids of tasks whose answers this task needs"]
  }
]

Rules:
- Use a single task when the request has a single intent
- Only add depends_on when a task needs another task's answer
- Never create circular dependencies`
