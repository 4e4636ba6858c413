package emit

import (
	"fmt"

	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/signature"
)

// paramList builds the signature of m. Declared parameters are taken as
// written; a receiver is present only if the IDL declared one.
func paramList(cls hierarchy.Class, m hierarchy.Method) (*signature.ParamList, error) {
	l := signature.NewParamList(m.Variadic)
	for i, p := range m.Params {
		v := signature.Variable{Type: p.Type, Name: p.Name, Required: p.Default == nil}
		var err error
		if p.Default != nil {
			err = l.AddDefault(v, *p.Default)
		} else {
			err = l.Add(v)
		}
		if err != nil {
			return nil, fmt.Errorf("emit: %s::%s param %d: %w", cls.Name, m.Name, i, err)
		}
	}
	l.Lock()
	return l, nil
}

func funcName(cls hierarchy.Class, m hierarchy.Method) string {
	return cls.CName() + "_" + m.Name
}

func prototype(cls hierarchy.Class, m hierarchy.Method) (string, error) {
	l, err := paramList(cls, m)
	if err != nil {
		return "", err
	}
	decl := l.Declaration()
	if decl == "" {
		decl = "void"
	}
	return fmt.Sprintf("%s %s(%s);", m.ReturnType, funcName(cls, m), decl), nil
}
