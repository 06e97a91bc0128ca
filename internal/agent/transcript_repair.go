package agent

import "github.com/shai-run/agentcore/pkg/models"

// repairTranscript drops Tool messages whose ToolCallID does not match a
// pending call from the immediately preceding Assistant message (or
// reassigns an unlabeled one to the sole pending call), since providers
// reject a tool-result turn that doesn't correspond 1:1 to the prior
// assistant's tool_calls. Brain.Decide runs every trace snapshot through
// this before handing it to toCompletionMessages, so a cancelled or
// malformed batch never reaches a provider as a dangling tool_call_id.
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]struct{})
	pendingOrder := make([]string, 0)
	repaired := make([]models.Message, 0, len(history))

	clearPending := func() {
		for k := range pending {
			delete(pending, k)
		}
		pendingOrder = pendingOrder[:0]
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			clearPending()
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				pending[call.ID] = struct{}{}
				pendingOrder = append(pendingOrder, call.ID)
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			id := msg.ToolCallID
			if id == "" && len(pendingOrder) > 0 {
				id = pendingOrder[0]
			}
			if id == "" {
				continue
			}
			if _, ok := pending[id]; !ok {
				continue
			}
			delete(pending, id)
			pendingOrder = removeID(pendingOrder, id)
			msg.ToolCallID = id
			repaired = append(repaired, msg)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}
