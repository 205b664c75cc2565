package textclean

import "testing"

func TestClean(t *testing.T) {
	cases := map[string]struct {
		in, want string
	}{
		"html with script": {
			in:   `<html><head><style>p{}</style></head><body><div>Thank you<br>for applying</div><script>track()</script></body></html>`,
			want: "Thank you for applying",
		},
		"reply chain": {
			in:   "We received your application.\n\nOn Mon, 3 Jun 2024 at 10:00, Jane <jane@example.com> wrote:\n> my cover letter",
			want: "We received your application.",
		},
		"original message": {
			in:   "Thanks!\n----- Original Message -----\nold stuff",
			want: "Thanks!",
		},
		"forwarded headers": {
			in:   "See below\nFrom: HR <hr@example.com>\nSent: Monday\nprevious text",
			want: "See below",
		},
		"quoted lines only": {
			in:   "Keep this\n> drop this\nand this stays",
			want: "Keep this and this stays",
		},
		"inline arrow kept": {
			in:   "Status -> submitted",
			want: "Status -> submitted",
		},
		"whitespace": {
			in:   "  a \n\t b  ",
			want: "a b",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Clean(tc.in); got != tc.want {
				t.Fatalf("Clean() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFinal_RemovesLinksAndBoilerplate(t *testing.T) {
	in := "Your application was received. Please do not reply to this email. Details https://jobs.example.com/x?id=1 Follow us on LinkedIn and Twitter"
	want := "Your application was received. Details"
	if got := Final(in); got != want {
		t.Fatalf("Final() = %q, want %q", got, want)
	}
}

func TestTrainingText_LengthFilter(t *testing.T) {
	if _, ok := TrainingText("Hi", "short"); ok {
		t.Fatalf("short text should be filtered")
	}
	text, ok := TrainingText("Application received", "Thank you for applying to the Platform Engineer role.")
	if !ok {
		t.Fatalf("long text should be kept")
	}
	if text != "Application received Thank you for applying to the Platform Engineer role." {
		t.Fatalf("unexpected text %q", text)
	}
}
