package team

// Arguments: title, description, member names.
const planPrompt = `Task: %s
Description: %s
Team members: %s
Create a detailed workflow assigning specific responsibilities to each team member, including the order of work and estimated time for each step.

Write the workflow as plain text blocks separated by blank lines, each block in exactly this form:
Step 1: <step title>
Responsibilities:
- <team member name>: <what they do>
Estimated Time: <duration>`

// Arguments: title, step, responsibility, estimated time.
const roleMessage = `Your role in task '%s' (%s): %s
Estimated time: %s`

// Arguments: title, responsibility.
const startMessage = `Please start working on your part of the task: %s
Your responsibility: %s`

// Arguments: title, description, previous work.
const contributionPrompt = `Task: %s
Description: %s
Previous work done:
%s
Based on the previous work, please continue working on the task and provide your contribution.`

// Arguments: agent name, title, responsibility, contribution.
const reviewPrompt = `Review the following work done by %s for the task '%s' (responsibility: %s):
%s

Assess the work against these criteria:
1. Completeness: does it cover everything the responsibility asks for?
2. Quality: is it accurate, clear and well structured?
3. Task fulfillment: does it move the overall task forward?
4. Gaps: what is missing or wrong?
5. Suggestions: what concrete changes would make it better?

End your review with a final line of the form
action: <improve|revise|continue|done>
Use done when no further work is needed.`

// Revision prompts per action. Arguments: feedback, title.
var revisionPrompts = map[Action]string{
	ActionImprove:  "Based on the feedback: %s\nPlease improve your work on the task: %s",
	ActionRevise:   "Based on the feedback: %s\nPlease revise your work on the task: %s",
	ActionContinue: "Based on the feedback: %s\nPlease continue your work on the task: %s",
}

// Attribution labels for revised work, followed by the agent name.
var revisionLabels = map[Action]string{
	ActionImprove:  "Improved work by",
	ActionRevise:   "Revised work by",
	ActionContinue: "Continued work by",
}

// Arguments: title, full results.
const evaluationPrompt = `Task: %s
Full results:
%s
Evaluate the overall quality of the work, highlight key findings, and create a comprehensive summary.`

// Arguments: title, evaluation.
const completionMessage = "Task '%s' has been completed. Here's the summary:\n%s"
