package vm

// asmdefs.go is the assembler's command table, grounded on asm.c's
// InstructionDefinition overload lists: each mnemonic maps to one or more
// signatures (operand kinds), exactly the way the original registers one
// entry per (name, lparam type, rparam type) combination and resolves the
// right one at assemble time.

type asmSig struct {
	op    Opcode
	lkind OperandKind
	rkind OperandKind
}

// asmCommands indexes every assembler mnemonic to its accepted operand
// signatures. A mnemonic with several entries (e.g. "push") is an overload
// family the same way asm.c chains InstructionDefinition nodes.
var asmCommands = map[string][]asmSig{
	"nop":  {{NOP, OperandNone, OperandNone}},
	"end":  {{END, OperandNone, OperandNone}},
	"assert": {{ASSERT_R_R, OperandReg, OperandReg}},
	"rte":  {{RTE_R, OperandReg, OperandNone}},

	"mdump": {{MDUMP, OperandNone, OperandNone}},
	"rdump": {{RDUMP, OperandNone, OperandNone}},
	"sdump": {{SDUMP, OperandNone, OperandNone}},

	"madd": {
		{MADD_S, OperandStr, OperandNone},
		{MADD_N, OperandNum, OperandNone},
		{MADD_R, OperandReg, OperandNone},
	},

	"mload": {
		{MLOAD_S, OperandStr, OperandNone},
		{MLOAD_N, OperandNum, OperandNone},
		{MLOAD_R, OperandReg, OperandNone},
		{MLOAD, OperandNone, OperandNone},
	},
	"mloads": {{MLOADS, OperandNone, OperandNone}},

	"mset": {
		{MSET_S, OperandStr, OperandReg},
		{MSET_N, OperandNum, OperandReg},
		{MSET_L, OperandLbl, OperandStr},
		{MSET_R, OperandReg, OperandReg},
	},
	"mclr": {{MCLR, OperandNone, OperandNone}},
	"mget": {{MGET_R, OperandReg, OperandNone}},

	"mpush": {{MPUSH, OperandNone, OperandNone}},
	"mpop":  {{MPOP, OperandNone, OperandNone}},
	"mswap": {{MSWAP, OperandNone, OperandNone}},

	"clr": {{CLR_R, OperandReg, OperandNone}},
	"move": {
		{MOVE_R_S, OperandReg, OperandStr},
		{MOVE_R_N, OperandReg, OperandNum},
		{MOVE_R_L, OperandReg, OperandLbl},
		{MOVE_R_R, OperandReg, OperandReg},
	},

	"jmp":  {{JMP_L, OperandLbl, OperandNone}},
	"eval": {{EVAL_R, OperandReg, OperandNone}},
	"jmpt": {{JMPT_L, OperandLbl, OperandNone}},
	"jmpf": {{JMPF_L, OperandLbl, OperandNone}},

	"jmpet": {{JMPET_R_L, OperandReg, OperandLbl}},
	"jmpef": {{JMPEF_R_L, OperandReg, OperandLbl}},

	"push": {
		{PUSH_R, OperandReg, OperandNone},
		{PUSH_N, OperandNum, OperandNone},
		{PUSH_S, OperandStr, OperandNone},
		{PUSH_L, OperandLbl, OperandNone},
	},
	"pop":  {{POP_R, OperandReg, OperandNone}},
	"swap": {{SWAP_R, OperandReg, OperandNone}},
	"spop": {{SPOP_R_R, OperandReg, OperandReg}},

	"or":  {{OR_R_R, OperandReg, OperandReg}},
	"and": {{AND_R_R, OperandReg, OperandReg}},

	"eql":  {{EQL_R_R, OperandReg, OperandReg}},
	"less": {{LESS_R_R, OperandReg, OperandReg}},
	"gre":  {{GRE_R_R, OperandReg, OperandReg}},
	"leql": {{LEQL_R_R, OperandReg, OperandReg}},
	"geql": {{GEQL_R_R, OperandReg, OperandReg}},
	"neql": {{NEQL_R_R, OperandReg, OperandReg}},

	"add": {{ADD_R_R, OperandReg, OperandReg}},
	"sub": {{SUB_R_R, OperandReg, OperandReg}},
	"mul": {{MUL_R_R, OperandReg, OperandReg}},
	"div": {{DIV_R_R, OperandReg, OperandReg}},
	"mod": {{MOD_R_R, OperandReg, OperandReg}},

	"speql":  {{SPEQL, OperandNone, OperandNone}},
	"spless": {{SPLESS, OperandNone, OperandNone}},
	"spgre":  {{SPGRE, OperandNone, OperandNone}},
	"spleql": {{SPLEQL, OperandNone, OperandNone}},
	"spgeql": {{SPGEQL, OperandNone, OperandNone}},
	"spneql": {{SPNEQL, OperandNone, OperandNone}},
	"spadd":  {{SPADD, OperandNone, OperandNone}},
	"spsub":  {{SPSUB, OperandNone, OperandNone}},
	"spmul":  {{SPMUL, OperandNone, OperandNone}},
	"spdiv":  {{SPDIV, OperandNone, OperandNone}},
	"spmod":  {{SPMOD, OperandNone, OperandNone}},

	"neg": {{NEG_R, OperandReg, OperandNone}},

	"ctbl":  {{CTBL_R, OperandReg, OperandNone}},
	"lptbl": {{LPTBL_R, OperandReg, OperandNone}},

	"str": {
		{STR_R_R, OperandReg, OperandReg},
		{STR_R, OperandReg, OperandNone},
	},
	"num": {
		{NUM_R_R, OperandReg, OperandReg},
		{NUM_R, OperandReg, OperandNone},
	},
	"int": {
		{INT_R_R, OperandReg, OperandReg},
		{INT_R, OperandReg, OperandNone},
	},
	"size": {{SIZE_R_R, OperandReg, OperandReg}},
	"len":  {{LEN_R_R, OperandReg, OperandReg}},

	"not": {{NOT_R, OperandReg, OperandNone}},

	"mdel": {
		{MDEL_S, OperandStr, OperandNone},
		{MDEL_N, OperandNum, OperandNone},
		{MDEL_R, OperandReg, OperandNone},
	},

	"gc": {{GC, OperandNone, OperandNone}},

	"cpy": {{CPY_R_R, OperandReg, OperandReg}},

	"call":  {{CALL_R, OperandReg, OperandNone}},
	"ret":   {{RET, OperandNone, OperandNone}},
	"local": {{LOCAL, OperandNone, OperandNone}},
	"pval":  {{OPT_PVAL, OperandNum, OperandStr}},

	"iload": {{ILOAD, OperandInt, OperandNone}},
	"ihas":  {{IHAS, OperandReg, OperandNone}},
	"ival":  {{IVAL_R, OperandReg, OperandNone}},
	"ikey":  {{IKEY_R, OperandReg, OperandNone}},
	"ipush": {{IPUSH, OperandNone, OperandNone}},
	"ipop":  {{IPOP, OperandNone, OperandNone}},
	"istep": {{ISTEP, OperandNone, OperandNone}},
	"idel":  {{IDEL, OperandNone, OperandNone}},

	"abs":   {{ABS_R, OperandReg, OperandNone}},
	"cos":   {{COS_R, OperandReg, OperandNone}},
	"sin":   {{SIN_R, OperandReg, OperandNone}},
	"tan":   {{TAN_R, OperandReg, OperandNone}},
	"acos":  {{ACOS_R, OperandReg, OperandNone}},
	"asin":  {{ASIN_R, OperandReg, OperandNone}},
	"atan":  {{ATAN_R, OperandReg, OperandNone}},
	"atan2": {{ATAN2_R_R, OperandReg, OperandReg}},
	"log":   {{LOG_R, OperandReg, OperandNone}},
	"sgn":   {{SGN_R, OperandReg, OperandNone}},
	"sqr":   {{SQR_R, OperandReg, OperandNone}},
	"pow":   {{POW_R_R, OperandReg, OperandReg}},
	"floor": {{FLOOR_R, OperandReg, OperandNone}},
	"ceil":  {{CEIL_R, OperandReg, OperandNone}},
	"round": {{ROUND_R, OperandReg, OperandNone}},
	"rad":   {{RAD_R, OperandReg, OperandNone}},
	"deg":   {{DEG_R, OperandReg, OperandNone}},
	"min":   {{MIN_R_R, OperandReg, OperandReg}},
	"max":   {{MAX_R_R, OperandReg, OperandReg}},

	"type": {{TYPE_R_R, OperandReg, OperandReg}},

	"sys": {{SYS_N_N, OperandInt, OperandInt}},

	"fload": {{FLOAD_R, OperandReg, OperandNone}},
	"fcall": {{FCALL_N, OperandInt, OperandNone}},
}
