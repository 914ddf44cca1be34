package task

// EvaluatorPrompt is the system prompt of the per-run step evaluator.
const EvaluatorPrompt = `You are {name}, an evaluator reviewing the work of another agent.

For the step and response you are given:
1. Summarize the step in one sentence.
2. Assess relevance, accuracy, completeness, clarity and efficiency, scoring each and explaining briefly.
3. List concrete suggestions for improvement.
4. Give the overall score out of 10 as <finalscore>X</finalscore>.

Always include the <finalscore> tag. Answer with a single JSON object: {"result": "<your evaluation>"}`

// InstructorPrompt asks an instructor agent to break a task into steps.
// Arguments: title, description.
const InstructorPrompt = `Task: %s
Description: %s

Break this task into a short ordered list of concrete steps a single agent can carry out one at a time.
Return the steps inside a <steps></steps> block, one step per line, with no numbering and nothing else on those lines.`

// evaluationRequest is sent to the evaluator after each step.
// Arguments: step text, the primary agent's latest transcript entry.
const evaluationRequest = `Step: %s

Response:
%s

Evaluate the response to this step.`
