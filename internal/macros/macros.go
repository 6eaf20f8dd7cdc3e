// Package macros renders the C/C++ snippets an instrumented program uses
// to emit the two marker grammars kin parses.
package macros

import (
	"bytes"
	"fmt"
	"text/template"

	"kin/internal/marker"
)

var sectionTemplate = template.Must(template.New("section").Parse(`#define KIN_PRINT(tag, statement) \
    if (thread0()) { \
        printf("[{{.Prefix}}:start:%s]\n", tag); \
        statement; \
        printf("\n[{{.Prefix}}:end:%s]\n", tag); \
    }
`))

// The array printer emits Go expressions for the kin evaluator:
// np.Array(v0, v1, ...).ReshapeF(d0, d1, ...). CuTe stores tensors
// column-major, hence ReshapeF.
var blockTemplate = template.Must(template.New("block").Parse(`#define PRINT_NUMPY(t)      \
    cute::print("\n<{{.Token}}>\n");   \
    cute::print(#t " = ");        \
    print_numpy(t);               \
    cute::print("\n</{{.Token}}>\n");
#define PRINT_NUMPY_VAL(t)  \
    cute::print("\n<{{.Token}}>\n");   \
    cute::print(#t " = ");        \
    cute::print(t);               \
    cute::print("\n</{{.Token}}>\n");
#define PRINT_NUMPY_STR(t)  \
    cute::print("\n<{{.Token}}>\n");   \
    cute::print(#t " = \"");      \
    cute::print(t);               \
    cute::print("\"\n</{{.Token}}>\n");
#define PRINT_NUMPY_BARRIER() cute::print("\n<{{.Barrier}}>\n");

template<class Engine, class Layout>
void
print_numpy(cute::Tensor<Engine,Layout> const& t)
{
    using namespace cute;
    print("np.Array(");
    for (int i = 0; i < t.size(); i++) {
        print(t(i));
        if (i < t.size() - 1) {
            print(", ");
        }
        if (i % 10 == 9) {
            print("\n");
        }
    }
    print(").ReshapeF");
    print(transform_apply(
        t.layout().shape(),
        [](auto const& m) { return size(m) + 0; },
        [](auto const&... v) { return make_shape(v...); }
    ));
}
`))

// Sections renders KIN_PRINT for the given section prefix.
func Sections(prefix string) string {
	return render(sectionTemplate, struct{ Prefix string }{prefix})
}

// Blocks renders the PRINT_NUMPY family for the given block and barrier
// tokens.
func Blocks(token, barrier string) string {
	return render(blockTemplate, struct{ Token, Barrier string }{token, barrier})
}

// Default renders both macro sets with the default markers.
func Default() string {
	return Sections(marker.DefaultPrefix) + "\n" + Blocks(marker.DefaultToken, marker.DefaultBarrier)
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("macros: %v", err))
	}
	return buf.String()
}
