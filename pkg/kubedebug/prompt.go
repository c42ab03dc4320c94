package kubedebug

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
	"gopkg.in/AlecAivazis/survey.v1"

	"github.com/solo-io/kubedebug/pkg/session"
)

const (
	choiceResume  = "resume debugging"
	choiceRebuild = "rebuild and redeploy now"
	choiceExit    = "clean up and exit"
)

// Interactive reports whether the decision prompt can be shown.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptDecider asks on the terminal what to do after the relay was paused.
type promptDecider struct {
	rebuild bool
}

// NewDecider returns nil when stdin is not a terminal, in which case an
// interrupt exits.
func NewDecider(rebuild bool) session.Decider {
	if !Interactive() {
		return nil
	}
	return &promptDecider{rebuild: rebuild}
}

func (p *promptDecider) Decide(ctx context.Context) (session.Decision, error) {
	choices := []string{choiceResume}
	if p.rebuild {
		choices = append(choices, choiceRebuild)
	}
	choices = append(choices, choiceExit)

	answer := ""
	prompt := &survey.Select{
		Message: "Debugger relay paused.",
		Options: choices,
		Default: choiceResume,
	}
	if err := survey.AskOne(prompt, &answer, nil); err != nil {
		return session.Exit, errors.Wrap(err, "reading decision")
	}
	return decisionFor(answer), nil
}

func decisionFor(answer string) session.Decision {
	switch answer {
	case choiceResume:
		return session.Resume
	case choiceRebuild:
		return session.RebuildNow
	}
	return session.Exit
}
