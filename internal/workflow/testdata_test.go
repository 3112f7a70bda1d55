package workflow

const remediationYAML = `
label: remediation
search: "tags:corpeng_primary_remediation status:open status:new"
schedule: "@every 2m"
message: "Hi! Machine {barcode} is out of date. Can you update it?"
choices:
  updated:
    label: "Already done"
    message: "Thanks, closing the ticket."
    update_ticket:
      status: solved
      comment:
        body: "User reports the machine is updated."
  help:
    label: "I need help"
    message: "What went wrong?"
    choices:
      no_time:
        label: "No time"
        message: "We'll check back later."
      failed:
        label: "Update failed"
        message: "Escalating to support."
        update_ticket:
          status: open
          priority: high
`

const scenarioYAML = `
label: scenario
message: "Hi {ref}"
choices:
  "yes":
    message: "Great"
    update_ticket: {status: "solved"}
  "no":
    message: "Sorry"
    choices: {}
`
